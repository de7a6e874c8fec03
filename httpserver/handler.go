package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ruteri/wallet-attached-storage/authz"
	"github.com/ruteri/wallet-attached-storage/didkey"
	"github.com/ruteri/wallet-attached-storage/httpsig"
	"github.com/ruteri/wallet-attached-storage/interfaces"
)

const (
	// maxBodySize is the maximum allowed request body size (10MB).
	maxBodySize = 10 * 1024 * 1024

	defaultContentType = "application/octet-stream"
)

// ErrMissingAuthorization is returned when a protected route is called
// without an Authorization header.
var ErrMissingAuthorization = errors.New("missing authorization header")

// badRequestError marks client errors that have no sentinel of their own.
type badRequestError struct {
	detail string
}

func (e *badRequestError) Error() string { return e.detail }

// problemDoc is an RFC 7807 problem details document.
type problemDoc struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// spaceDoc is the wire shape of a space in request and response bodies.
type spaceDoc struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
}

// Handler processes HTTP requests for the wallet attached storage service.
// It verifies request signatures, consults the authorizer and delegates
// persistence to the storage backend.
type Handler struct {
	storage interfaces.StorageBackend
	authz   *authz.Authorizer
	log     *slog.Logger
}

// NewHandler creates a new HTTP request handler over the given storage
// backend.
func NewHandler(storage interfaces.StorageBackend, log *slog.Logger) *Handler {
	return &Handler{
		storage: storage,
		authz:   authz.New(storage, log),
		log:     log,
	}
}

// statusForError maps the service's sentinel errors to HTTP status codes.
func statusForError(err error) int {
	var badReq *badRequestError
	switch {
	case errors.As(err, &badReq),
		errors.Is(err, didkey.ErrMalformedDID),
		errors.Is(err, httpsig.ErrMalformedSignatureHeader),
		errors.Is(err, httpsig.ErrMissingSignedHeader):
		return http.StatusBadRequest
	case errors.Is(err, ErrMissingAuthorization),
		errors.Is(err, didkey.ErrUnsupportedKeyType),
		errors.Is(err, httpsig.ErrUnsupportedAlgorithm),
		errors.Is(err, httpsig.ErrInvalidSignature),
		errors.Is(err, httpsig.ErrSignatureExpired):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeProblem renders err as an application/problem+json response.
func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			"err", err)
	}

	doc := problemDoc{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// verifySigner extracts and verifies the request signature, returning the
// signer's DID.
func (h *Handler) verifySigner(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}
	return httpsig.VerifyRequest(authHeader, r.Method, r.URL.Path, r.Header)
}

// HandleUpsertSpace creates or updates a space.
//
// URL format: PUT /space/{uuid}
// Request body: JSON {id, controller}; controller defaults to the signer
// and must equal the signer when the space is being created. An update may
// name a different controller to hand the space over. The id is derived
// from the URL and may not be changed.
func (h *Handler) HandleUpsertSpace(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	urlUUID, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeProblem(w, r, &badRequestError{detail: "invalid space uuid"})
		return
	}
	spaceUUID := urlUUID.String()

	var doc spaceDoc
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeProblem(w, r, fmt.Errorf("failed to read request body: %w", err))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			h.writeProblem(w, r, &badRequestError{detail: fmt.Sprintf("invalid space document: %v", err)})
			return
		}
	}

	spaceID := interfaces.MakeURNUUID(spaceUUID)
	if doc.ID != "" {
		bodyUUID, err := interfaces.ParseURNUUID(doc.ID)
		if err != nil || bodyUUID != urlUUID {
			h.writeProblem(w, r, &badRequestError{detail: "space id does not match the URL"})
			return
		}
	}
	if doc.Controller == "" {
		doc.Controller = signer
	}

	if err := h.authz.AuthorizeUpsert(r.Context(), signer, spaceUUID, doc.Controller); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	space := interfaces.Space{UUID: spaceUUID, ID: spaceID, Controller: doc.Controller}
	if err := h.storage.PutSpace(r.Context(), space); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	h.log.Info("Space upserted",
		slog.String("space", spaceUUID),
		slog.String("controller", doc.Controller))
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetSpace returns the space metadata to its controller.
//
// URL format: GET /space/{uuid}
func (h *Handler) HandleGetSpace(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	space, err := h.authz.AuthorizeExisting(r.Context(), signer, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spaceDoc{ID: space.ID, Controller: space.Controller})
}

// HandleDeleteSpace deletes a space and all its resources.
//
// URL format: DELETE /space/{uuid}
func (h *Handler) HandleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	spaceUUID := chi.URLParam(r, "uuid")
	if _, err := h.authz.AuthorizeExisting(r.Context(), signer, spaceUUID); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if err := h.storage.DeleteSpace(r.Context(), spaceUUID); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	h.log.Info("Space deleted", slog.String("space", spaceUUID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateSpace creates a space with a server-generated UUID, owned by
// the signer.
//
// URL format: POST /spaces/
func (h *Handler) HandleCreateSpace(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	spaceUUID := uuid.Must(uuid.NewRandom()).String()
	space := interfaces.Space{
		UUID:       spaceUUID,
		ID:         interfaces.MakeURNUUID(spaceUUID),
		Controller: signer,
	}
	if err := h.storage.PutSpace(r.Context(), space); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	h.log.Info("Space created",
		slog.String("space", spaceUUID),
		slog.String("controller", signer))

	w.Header().Set("Location", "/space/"+spaceUUID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(spaceDoc{ID: space.ID, Controller: space.Controller})
}

// HandleListSpaces lists the spaces controlled by the signer.
//
// URL format: GET /spaces/
func (h *Handler) HandleListSpaces(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	spaces, err := h.storage.ListSpaces(r.Context(), signer)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	docs := make([]spaceDoc, 0, len(spaces))
	for _, space := range spaces {
		docs = append(docs, spaceDoc{ID: space.ID, Controller: space.Controller})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}

// resourcePath returns the wildcard remainder of a resource route, with
// the conventional leading slash.
func resourcePath(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

// HandlePutResource creates or updates a resource within a space.
//
// URL format: PUT|POST /space/{uuid}/{path}
// The content type is taken from the Content-Type header.
func (h *Handler) HandlePutResource(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	spaceUUID := chi.URLParam(r, "uuid")
	if _, err := h.authz.AuthorizeExisting(r.Context(), signer, spaceUUID); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeProblem(w, r, fmt.Errorf("failed to read request body: %w", err))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	path := resourcePath(r)
	res := interfaces.Resource{Content: content, ContentType: contentType}
	if err := h.storage.PutResource(r.Context(), spaceUUID, path, res); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	h.log.Info("Resource stored",
		slog.String("space", spaceUUID),
		slog.String("path", path),
		slog.Int("size", len(content)))

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetResource returns a resource's content. Resource reads are
// public and require no signature.
//
// URL format: GET /space/{uuid}/{path}
func (h *Handler) HandleGetResource(w http.ResponseWriter, r *http.Request) {
	spaceUUID := chi.URLParam(r, "uuid")
	res, err := h.storage.GetResource(r.Context(), spaceUUID, resourcePath(r))
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(res.Content)
}

// HandleDeleteResource removes a resource; deleting an absent path still
// succeeds.
//
// URL format: DELETE /space/{uuid}/{path}
func (h *Handler) HandleDeleteResource(w http.ResponseWriter, r *http.Request) {
	signer, err := h.verifySigner(r)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}

	spaceUUID := chi.URLParam(r, "uuid")
	if _, err := h.authz.AuthorizeExisting(r.Context(), signer, spaceUUID); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if err := h.storage.DeleteResource(r.Context(), spaceUUID, resourcePath(r)); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
