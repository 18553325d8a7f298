package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"queue-router/internal/common/logging"
)

func TestLoggingMiddleware(t *testing.T) {
	previous := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(previous)

	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.InfoLevel, Output: &buf})
	require.NoError(t, err)
	logging.SetGlobalLogger(logger)

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/is_alive" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/is_ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, buf.String(), "successful requests log at debug")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/is_alive?x=1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), `"path":"/is_alive"`)
	assert.Contains(t, buf.String(), `"status":500`)
	assert.Contains(t, buf.String(), `"query":"x=1"`)
}
