package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	s := New(Config{Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsWithoutExporter(t *testing.T) {
	s := New(Config{Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	// Prometheus export is not initialised in tests, so the handler 404s
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRequiresToken(t *testing.T) {
	s := New(Config{Token: "secret", Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	// authenticated, but export still disabled
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDefaults(t *testing.T) {
	s := New(Config{})
	require.Equal(t, "127.0.0.1:9090", s.Address())
	require.NotNil(t, s.logger)
}
