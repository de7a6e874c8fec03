package httpserver

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/wallet-attached-storage/didkey"
	"github.com/ruteri/wallet-attached-storage/httpsig"
	"github.com/ruteri/wallet-attached-storage/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := storage.NewMemoryBackend(log)
	handler := NewHandler(backend, log)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		ReadTimeout:              time.Second,
		WriteTimeout:             time.Second,
	}, handler)
	require.NoError(t, err)
	return srv.getRouter()
}

func newSigner(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	did, err := didkey.Encode(pub)
	require.NoError(t, err)
	return priv, did
}

// signRequest attaches a Date header and a signature covering the request
// target and date, the way a conforming client signs.
func signRequest(t *testing.T, req *http.Request, priv ed25519.PrivateKey, did string) {
	t.Helper()
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	sig := &httpsig.ParsedSignature{
		KeyID:   did,
		Headers: []string{"(request-target)", "date"},
	}
	msg, err := httpsig.BuildSignatureString(req.Method, req.URL.Path, req.Header, sig)
	require.NoError(t, err)

	raw := ed25519.Sign(priv, []byte(msg))
	req.Header.Set("Authorization", fmt.Sprintf(
		`Signature keyId=%q,algorithm="hs2019",headers="(request-target) date",signature=%q`,
		did, base64.StdEncoding.EncodeToString(raw)))
}

func doRequest(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const testSpaceUUID = "11111111-1111-1111-1111-111111111111"

func TestSpaceOwnership(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)
	privB, didB := newSigner(t)

	// Owner creates the space.
	body := fmt.Sprintf(`{"controller": %q}`, didA)
	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(body))
	signRequest(t, req, privA, didA)
	rec := doRequest(router, req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Owner reads the metadata back.
	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	rec = doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc spaceDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "urn:uuid:"+testSpaceUUID, doc.ID)
	assert.Equal(t, didA, doc.Controller)

	// A different signer may not update the space.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(fmt.Sprintf(`{"controller": %q}`, didB)))
	signRequest(t, req, privB, didB)
	rec = doRequest(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	// Nor read its metadata.
	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privB, didB)
	rec = doRequest(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateSpaceForeignControllerRejected(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)
	privB, didB := newSigner(t)

	// A creating upsert naming someone else as controller is Forbidden and
	// must leave nothing behind.
	body := fmt.Sprintf(`{"controller": %q}`, didB)
	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(body))
	signRequest(t, req, privA, didA)
	rec := doRequest(router, req)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusNotFound, doRequest(router, req).Code)

	// The named controller never signed anything; their listing stays empty.
	req = httptest.NewRequest(http.MethodGet, "/spaces/", nil)
	signRequest(t, req, privB, didB)
	rec = doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []spaceDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestSpaceHandover(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)
	privB, didB := newSigner(t)

	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	// The current controller hands the space over.
	body := fmt.Sprintf(`{"controller": %q}`, didB)
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(body))
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privB, didB)
	rec := doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc spaceDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, didB, doc.Controller)

	// The previous controller is locked out.
	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusForbidden, doRequest(router, req).Code)
}

func TestResourceRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)

	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	// Owner writes a resource.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID+"/greeting.txt", bytes.NewBufferString("hello"))
	req.Header.Set("Content-Type", "text/plain")
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	// Anyone can read it back, unsigned.
	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID+"/greeting.txt", nil)
	rec := doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	// Unknown paths are NotFound.
	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID+"/missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, doRequest(router, req).Code)

	// POST creates too, and defaults the content type.
	req = httptest.NewRequest(http.MethodPost, "/space/"+testSpaceUUID+"/blob", bytes.NewBufferString("raw"))
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusCreated, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID+"/blob", nil)
	rec = doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultContentType, rec.Header().Get("Content-Type"))

	// Resource deletes are idempotent.
	req = httptest.NewRequest(http.MethodDelete, "/space/"+testSpaceUUID+"/never-existed", nil)
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/space/"+testSpaceUUID+"/greeting.txt", nil)
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID+"/greeting.txt", nil)
	assert.Equal(t, http.StatusNotFound, doRequest(router, req).Code)
}

func TestCreateAndListSpaces(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)
	privB, didB := newSigner(t)

	req := httptest.NewRequest(http.MethodPost, "/spaces/", nil)
	signRequest(t, req, privA, didA)
	rec := doRequest(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Location"))

	var created spaceDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, didA, created.Controller)

	// The listing only shows the signer's own spaces.
	req = httptest.NewRequest(http.MethodGet, "/spaces/", nil)
	signRequest(t, req, privA, didA)
	rec = doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []spaceDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/spaces/", nil)
	signRequest(t, req, privB, didB)
	rec = doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestDeleteSpace(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)
	privB, didB := newSigner(t)

	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privB, didB)
	assert.Equal(t, http.StatusForbidden, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	require.Equal(t, http.StatusNoContent, doRequest(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusNotFound, doRequest(router, req).Code)
}

func TestAuthenticationErrors(t *testing.T) {
	router := newTestRouter(t)
	_, didA := newSigner(t)

	// No Authorization header at all.
	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	rec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	// Unparseable signature header.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	req.Header.Set("Authorization", "Bearer not-a-signature")
	assert.Equal(t, http.StatusBadRequest, doRequest(router, req).Code)

	// Valid header shape, signature by a key that does not match the keyId.
	privB, _ := newSigner(t)
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	signRequest(t, req, privB, didA)
	assert.Equal(t, http.StatusUnauthorized, doRequest(router, req).Code)

	// Declared non-Ed25519 algorithm.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, nil)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Authorization", fmt.Sprintf(`Signature keyId=%q,algorithm="rsa-sha256",signature="c2ln"`, didA))
	assert.Equal(t, http.StatusUnauthorized, doRequest(router, req).Code)
}

func TestUpsertSpaceValidation(t *testing.T) {
	router := newTestRouter(t)
	privA, didA := newSigner(t)

	// The body id may not contradict the URL.
	body := `{"id": "urn:uuid:99999999-9999-9999-9999-999999999999"}`
	req := httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(body))
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, req).Code)

	// Malformed UUID in the URL.
	req = httptest.NewRequest(http.MethodPut, "/space/not-a-uuid", nil)
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, req).Code)

	// Invalid JSON body.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString("{"))
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, req).Code)

	// The body id must be a well-formed urn:uuid.
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(`{"id": "not-a-urn"}`))
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, req).Code)

	// A body id matching the URL is accepted.
	body = fmt.Sprintf(`{"id": "urn:uuid:%s"}`, testSpaceUUID)
	req = httptest.NewRequest(http.MethodPut, "/space/"+testSpaceUUID, bytes.NewBufferString(body))
	signRequest(t, req, privA, didA)
	assert.Equal(t, http.StatusNoContent, doRequest(router, req).Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(router, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(router, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
