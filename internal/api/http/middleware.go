// Package http provides HTTP API handlers for the Lumen system.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/lumenapm/lumen/internal/catalog"
	lumerr "github.com/lumenapm/lumen/internal/errors"
	"github.com/lumenapm/lumen/internal/index"
)

type contextKey string

// requestIDKey is the context key for the request ID.
const requestIDKey contextKey = "request_id"

// ErrorResponse is the JSON body of every error reply. Code carries the
// structured error code when the failure came from a LumenError.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware attaches a request id to each request: the caller's
// X-Request-ID when present, a generated one otherwise. The id is echoed
// in the response header and threaded through the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware converts a handler panic into a 500 reply and logs
// it with the request id so the failing request can be traced.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := r.Context().Value(requestIDKey).(string)
				log.Printf("api: panic serving %s %s (request %s): %v", r.Method, r.URL.Path, requestID, err)
				writeError(w, http.StatusInternalServerError, "internal server error", requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ContentTypeMiddleware sets the JSON content type. Handlers streaming
// non-JSON bodies (artifact content) override it before writing.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ChainMiddleware composes middleware so the first listed runs outermost.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware() func(http.Handler) http.Handler {
	return ChainMiddleware(
		RecoveryMiddleware,
		RequestIDMiddleware,
		ContentTypeMiddleware,
	)
}

// statusForError maps structured errors to HTTP status codes. Lookups
// that found nothing are 404; malformed input, bad archives, and
// threshold misconfiguration are the caller's fault; everything else is
// a server-side failure.
func statusForError(err error) int {
	if errors.Is(err, index.ErrArtifactNotFound) || errors.Is(err, catalog.ErrBundleNotFound) {
		return http.StatusNotFound
	}
	if lumerr.GetCode(err) == lumerr.CodeUnknownField {
		return http.StatusBadRequest
	}
	switch lumerr.GetCategory(err) {
	case lumerr.ErrCategoryValidation, lumerr.ErrCategoryArchive, lumerr.ErrCategoryThreshold:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeLumenError replies with the status and error code derived from a
// structured error.
func writeLumenError(w http.ResponseWriter, err error, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     err.Error(),
		Code:      lumerr.GetCode(err),
		RequestID: requestID,
	})
}

// writeError replies with an explicit status and message, for failures
// that never carry a structured error (bad query params, wrong method).
func writeError(w http.ResponseWriter, statusCode int, message string, requestID ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: message,
	}
	if len(requestID) > 0 && requestID[0] != "" {
		resp.RequestID = requestID[0]
	}

	json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
