// Package handlers contains the HTTP handlers for the paper proxy's
// inbound surface.  Handlers are thin adapters: parse, delegate to the
// application layer, render the Upstream-compatible JSON shape.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/turtacn/paperd/pkg/errors"
)

// parseWindow extracts offset and limit query parameters with defaults.
func parseWindow(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = 0
	limit = defaultLimit
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeAppError renders an application error with the HTTP status its
// code maps to.  Server-side causes are masked; the taxonomy code is
// always exposed so callers can branch without parsing messages.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	message := err.Error()
	if errors.IsServerError(code) {
		message = errors.DefaultMessageForCode(code)
	}
	writeJSON(w, status, ErrorResponse{Code: code.String(), Message: message})
}
