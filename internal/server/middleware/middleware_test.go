package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		code   int
	}{
		{"missing", "/api/status", nil, http.StatusUnauthorized},
		{"wrong", "/api/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key", "/api/status", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", "/api/status", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"open path", "/api/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/orders", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://Dash.local/"})(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	req = httptest.NewRequest(http.MethodOptions, "/api/books", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	for name, origins := range map[string][]string{
		"empty": nil,
		"star":  {"http://dash.local", "*"},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			req.Header.Set("Origin", "http://anywhere.local")
			rec := httptest.NewRecorder()
			CORS(origins)(ok).ServeHTTP(rec, req)
			assert.Equal(t, "http://anywhere.local", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestLogging_CapturesStatus(t *testing.T) {
	var rw *responseWriter
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rw = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(inner).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
}
