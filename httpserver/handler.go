package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/manager"
)

const (
	// FilenameHeader carries the original filename of an uploaded resource.
	FilenameHeader = "X-Resource-Filename"

	// DefaultMaxUploadSize bounds the request body of an import (1 GiB).
	DefaultMaxUploadSize = 1 << 30
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler serves the resource API on top of a manager.
type Handler struct {
	manager       *manager.Manager
	maxUploadSize int64
	log           *slog.Logger
}

// NewHandler creates a new HTTP request handler. A maxUploadSize of zero
// selects DefaultMaxUploadSize.
func NewHandler(mgr *manager.Manager, maxUploadSize int64, log *slog.Logger) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &Handler{
		manager:       mgr,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// publishResponse is returned by publish and unpublish calls.
type publishResponse struct {
	Digest  interfaces.Digest `json:"sha1"`
	Outcome string            `json:"outcome"`
	URI     string            `json:"uri,omitempty"`
}

// HandleCollections lists the registered collections.
//
// URL format: GET /api/collections
func (h *Handler) HandleCollections(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.Collections())
}

// HandleImport stores the request body as a new resource of a collection.
//
// URL format: POST /api/collections/{collection}/resources
// Optional headers:
//   - X-Resource-Filename: original filename, used in publication paths
//   - Content-Type: media type recorded with the resource
//
// Response: 201 with the JSON encoded resource.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, h.maxUploadSize)}
	defer body.Close()

	mediaType := r.Header.Get("Content-Type")
	if mediaType == "application/x-www-form-urlencoded" {
		mediaType = ""
	}

	res, err := h.manager.Import(r.Context(), collection, body, r.Header.Get(FilenameHeader), mediaType)
	if err != nil {
		if body.exceeded {
			err = &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err}
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// HandleList returns the resources of a collection.
//
// URL format: GET /api/collections/{collection}/resources
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	resources, err := h.manager.List(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if resources == nil {
		resources = []interfaces.Resource{}
	}
	h.writeJSON(w, http.StatusOK, resources)
}

// HandleFetch streams the bytes of a resource.
//
// URL format: GET /api/collections/{collection}/resources/{digest}
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	digest, err := parseDigest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc, res, err := h.manager.Fetch(r.Context(), chi.URLParam(r, "collection"), digest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	mediaType := res.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	w.Header().Set("ETag", strconv.Quote(res.Digest.String()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Error("Failed to stream resource", slog.String("digest", digest.Short()), "err", err)
	}
}

// HandleDelete removes a resource from its collection.
//
// URL format: DELETE /api/collections/{collection}/resources/{digest}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	digest, err := parseDigest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "collection"), digest); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePublish publishes one resource through the collection's target.
//
// URL format: POST /api/collections/{collection}/resources/{digest}/publish
//
// Response: JSON with the outcome and the public URI.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	digest, err := parseDigest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.manager.Publish(r.Context(), collection, digest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uri, err := h.manager.PublicURI(r.Context(), collection, digest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, publishResponse{Digest: digest, Outcome: outcome.String(), URI: uri})
}

// HandleUnpublish revokes the publication of one resource.
//
// URL format: POST /api/collections/{collection}/resources/{digest}/unpublish
func (h *Handler) HandleUnpublish(w http.ResponseWriter, r *http.Request) {
	digest, err := parseDigest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	outcome, err := h.manager.Unpublish(r.Context(), chi.URLParam(r, "collection"), digest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, publishResponse{Digest: digest, Outcome: outcome.String()})
}

// HandleURI returns the public URI of a resource without publishing it.
//
// URL format: GET /api/collections/{collection}/resources/{digest}/uri
func (h *Handler) HandleURI(w http.ResponseWriter, r *http.Request) {
	digest, err := parseDigest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	uri, err := h.manager.PublicURI(r.Context(), chi.URLParam(r, "collection"), digest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

// HandlePublishCollection publishes a whole collection. Failures of single
// resources are listed in the response; the call fails with 502 if any
// resource could not be published.
//
// URL format: POST /api/collections/{collection}/publish
func (h *Handler) HandlePublishCollection(w http.ResponseWriter, r *http.Request) {
	err := h.manager.PublishCollection(r.Context(), chi.URLParam(r, "collection"))
	if err == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"status": "published"})
		return
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		failures := make([]string, 0)
		for _, e := range joined.Unwrap() {
			failures = append(failures, e.Error())
		}
		h.log.Warn("Collection published with failures", slog.Int("failures", len(failures)))
		h.writeJSON(w, http.StatusBadGateway, map[string]any{"status": "partial", "failures": failures})
		return
	}
	h.writeError(w, r, err)
}

// limitedBody remembers whether the upload limit was hit, since stores
// report read failures without keeping the cause in the chain.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.exceeded = true
	}
	return n, err
}

func parseDigest(r *http.Request) (interfaces.Digest, error) {
	digest, err := interfaces.NewDigestFromHex(chi.URLParam(r, "digest"))
	if err != nil {
		return "", &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid digest: %w", err)}
	}
	return digest, nil
}

// statusFor maps errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, manager.ErrUnknownCollection), errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrConfiguration):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrSourceDataMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrBackendUnavailable), errors.Is(err, interfaces.ErrOriginNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), "err", err)
	} else {
		h.log.Debug("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
