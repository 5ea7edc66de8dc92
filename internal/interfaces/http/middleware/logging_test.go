package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
)

func TestRequestLogging_PassesThrough(t *testing.T) {
	handler := RequestLogging(logging.NewNopLogger(), DefaultLoggingConfig())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/paper/abc", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRequestLogging_SkipPaths(t *testing.T) {
	cfg := DefaultLoggingConfig()
	cfg.SkipPaths = []string{"/healthz"}
	handler := RequestLogging(logging.NewNopLogger(), cfg)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
