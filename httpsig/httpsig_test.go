package httpsig

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/wallet-attached-storage/didkey"
)

// newSigner generates a fresh Ed25519 keypair and its did:key identifier.
func newSigner(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	did, err := didkey.Encode(pub)
	require.NoError(t, err)
	return priv, did
}

// signHeader produces a signature header value covering the given request,
// mirroring what a conforming client would send.
func signHeader(t *testing.T, priv ed25519.PrivateKey, keyID, method, path string, hdr http.Header, headers []string, created, expires int64) string {
	t.Helper()

	sig := &ParsedSignature{
		KeyID:   keyID,
		Headers: headers,
		Created: created,
		Expires: expires,
	}
	msg, err := BuildSignatureString(method, path, hdr, sig)
	require.NoError(t, err)

	raw := ed25519.Sign(priv, []byte(msg))
	parts := []string{
		fmt.Sprintf("keyId=%q", keyID),
		`algorithm="hs2019"`,
		fmt.Sprintf("headers=%q", strings.Join(headers, " ")),
	}
	if created != 0 {
		parts = append(parts, fmt.Sprintf("created=%q", strconv.FormatInt(created, 10)))
	}
	if expires != 0 {
		parts = append(parts, fmt.Sprintf("expires=%q", strconv.FormatInt(expires, 10)))
	}
	parts = append(parts, fmt.Sprintf("signature=%q", base64.StdEncoding.EncodeToString(raw)))

	return "Signature " + strings.Join(parts, ",")
}

func TestParseSignatureHeader(t *testing.T) {
	header := `Signature keyId="did:key:zAbc#key-1",algorithm="hs2019",headers="(request-target) date",created="1700000000",signature="` +
		base64.StdEncoding.EncodeToString([]byte("sig")) + `"`

	parsed, err := ParseSignatureHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "did:key:zAbc#key-1", parsed.KeyID)
	assert.Equal(t, "hs2019", parsed.Algorithm)
	assert.Equal(t, []string{"(request-target)", "date"}, parsed.Headers)
	assert.Equal(t, []byte("sig"), parsed.Signature)
	assert.Equal(t, int64(1700000000), parsed.Created)
	assert.Zero(t, parsed.Expires)
}

func TestParseSignatureHeaderDefaultsToDate(t *testing.T) {
	header := `keyId="did:key:zAbc",signature="` + base64.StdEncoding.EncodeToString([]byte("sig")) + `"`

	parsed, err := ParseSignatureHeader(header)
	require.NoError(t, err)
	assert.Equal(t, []string{"date"}, parsed.Headers)
}

func TestParseSignatureHeaderErrors(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"missing keyId", `signature="c2ln"`},
		{"missing signature", `keyId="did:key:zAbc"`},
		{"bad created", `keyId="did:key:zAbc",signature="c2ln",created="soon"`},
		{"bad base64", `keyId="did:key:zAbc",signature="!!!"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSignatureHeader(tc.header)
			assert.ErrorIs(t, err, ErrMalformedSignatureHeader)
		})
	}
}

func TestBuildSignatureString(t *testing.T) {
	hdr := http.Header{}
	hdr.Set("Date", "Mon, 01 Jan 2024 00:00:00 GMT")
	hdr.Set("Host", "example.org")

	sig := &ParsedSignature{
		KeyID:   "did:key:zAbc",
		Headers: []string{"(request-target)", "(created)", "(key-id)", "date", "host"},
		Created: 1700000000,
	}

	msg, err := BuildSignatureString("PUT", "/space/abc", hdr, sig)
	require.NoError(t, err)

	expected := strings.Join([]string{
		"(request-target): put /space/abc",
		"(created): 1700000000",
		"(key-id): did:key:zAbc",
		"date: Mon, 01 Jan 2024 00:00:00 GMT",
		"host: example.org",
	}, "\n")
	assert.Equal(t, expected, msg)

	// Identical inputs must yield byte-identical output.
	again, err := BuildSignatureString("PUT", "/space/abc", hdr, sig)
	require.NoError(t, err)
	assert.Equal(t, msg, again)
}

func TestBuildSignatureStringMissingHeader(t *testing.T) {
	sig := &ParsedSignature{Headers: []string{"digest"}}
	_, err := BuildSignatureString("GET", "/", http.Header{}, sig)
	assert.ErrorIs(t, err, ErrMissingSignedHeader)
}

func TestBuildSignatureStringMissingCreated(t *testing.T) {
	sig := &ParsedSignature{Headers: []string{"(created)"}}
	_, err := BuildSignatureString("GET", "/", http.Header{}, sig)
	assert.ErrorIs(t, err, ErrMissingSignedHeader)
}

func TestVerifyRequestRoundTrip(t *testing.T) {
	priv, did := newSigner(t)

	hdr := http.Header{}
	hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	header := signHeader(t, priv, did+"#key-1", "PUT", "/space/abc", hdr,
		[]string{"(request-target)", "date"}, 0, 0)

	signer, err := VerifyRequest(header, "PUT", "/space/abc", hdr)
	require.NoError(t, err)
	assert.Equal(t, did, signer, "fragment must be stripped from the returned signer")
}

func TestVerifyRequestPseudoHeadersOnly(t *testing.T) {
	priv, did := newSigner(t)
	now := time.Now().Unix()

	header := signHeader(t, priv, did, "POST", "/spaces/", http.Header{},
		[]string{"(request-target)", "(created)", "(expires)", "(key-id)"}, now, now+300)

	signer, err := VerifyRequest(header, "POST", "/spaces/", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, did, signer)
}

func TestVerifyRequestTamperedPath(t *testing.T) {
	priv, did := newSigner(t)

	hdr := http.Header{}
	hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	header := signHeader(t, priv, did, "PUT", "/space/abc", hdr,
		[]string{"(request-target)", "date"}, 0, 0)

	_, err := VerifyRequest(header, "PUT", "/space/other", hdr)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRequestWrongKey(t *testing.T) {
	priv, _ := newSigner(t)
	_, otherDID := newSigner(t)

	hdr := http.Header{}
	hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	header := signHeader(t, priv, otherDID, "GET", "/spaces/", hdr,
		[]string{"(request-target)", "date"}, 0, 0)

	_, err := VerifyRequest(header, "GET", "/spaces/", hdr)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRequestExpired(t *testing.T) {
	priv, did := newSigner(t)
	now := time.Now().Unix()

	header := signHeader(t, priv, did, "GET", "/spaces/", http.Header{},
		[]string{"(request-target)", "(created)", "(expires)"}, now-7200, now-3600)

	_, err := VerifyRequest(header, "GET", "/spaces/", http.Header{})
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerifyRequestExpiredWithinSkew(t *testing.T) {
	priv, did := newSigner(t)
	now := time.Now().Unix()

	// Just past expiry but inside the clock-skew tolerance.
	header := signHeader(t, priv, did, "GET", "/spaces/", http.Header{},
		[]string{"(request-target)", "(created)", "(expires)"}, now-60, now-10)

	_, err := VerifyRequest(header, "GET", "/spaces/", http.Header{})
	require.NoError(t, err)
}

func TestVerifyRequestUnsupportedAlgorithm(t *testing.T) {
	header := `keyId="did:key:zAbc",algorithm="rsa-sha256",signature="c2ln"`
	_, err := VerifyRequest(header, "GET", "/", http.Header{})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestVerifyRequestMalformedDID(t *testing.T) {
	header := `keyId="did:web:example.com",signature="c2ln"`
	hdr := http.Header{}
	hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	_, err := VerifyRequest(header, "GET", "/", hdr)
	assert.ErrorIs(t, err, didkey.ErrMalformedDID)
}
