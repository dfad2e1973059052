package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthIsOpen(t *testing.T) {
	g, _ := newTestGateway(&fakeAgent{})
	r := g.BuildRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAdminSurfaceRequiresAPIKey(t *testing.T) {
	g, _ := newTestGateway(&fakeAgent{})
	g.settings.GatewayAPIKey = "secret"
	r := g.BuildRouter()

	req := httptest.NewRequest(http.MethodPost, "/gateway/pause/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/gateway/pause/test", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminSurfaceDisabledWithoutKey(t *testing.T) {
	g, _ := newTestGateway(&fakeAgent{})
	r := g.BuildRouter()

	req := httptest.NewRequest(http.MethodPost, "/gateway/pause/test", nil)
	req.Header.Set("X-API-Key", "anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPauseUnknownConnector(t *testing.T) {
	g, _ := newTestGateway(&fakeAgent{})
	g.settings.GatewayAPIKey = "secret"
	r := g.BuildRouter()

	req := httptest.NewRequest(http.MethodPost, "/gateway/pause/nope", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
