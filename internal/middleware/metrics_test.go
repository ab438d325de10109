package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"room-broker/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetricsRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/api/v1/rooms/{room_id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	const pattern = "/api/v1/rooms/{room_id}/messages"
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, pattern, "200")
	before := testutil.ToFloat64(counter)

	handler := newMetricsRouter(http.StatusOK)
	for _, room := range []string{"general", "random", "ops"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room+"/messages", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter), "all rooms should share one series")
}

func TestMetrics_RecordsStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		status int
		label  string
	}{
		{"ok", http.StatusOK, "200"},
		{"not_found", http.StatusNotFound, "404"},
		{"unavailable", http.StatusServiceUnavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/rooms/{room_id}/messages", tt.label)
			before := testutil.ToFloat64(counter)

			w := httptest.NewRecorder()
			newMetricsRouter(tt.status).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/general/messages", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "200")
	before := testutil.ToFloat64(counter)

	handler := Metrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no/router", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_DefaultStatusCodeIsOK(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, err := rw.Write([]byte("body"))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.statusCode)
}

func TestMetrics_ResponseWriterHijack(t *testing.T) {
	hijacked := make(chan bool, 1)
	handler := Metrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			hijacked <- false
			return
		}
		conn, _, err := hijacker.Hijack()
		hijacked <- err == nil
		if conn != nil {
			_ = conn.Close()
		}
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err == nil {
		_ = resp.Body.Close()
	}

	assert.True(t, <-hijacked, "websocket upgrades need a hijackable writer")
}

func TestMetrics_ResponseWriterHijackNotImplemented(t *testing.T) {
	rw := &responseWriter{ResponseWriter: plainWriter{}, statusCode: http.StatusOK}

	conn, buf, err := rw.Hijack()

	assert.Error(t, err)
	assert.Nil(t, conn)
	assert.Nil(t, buf)
}

type plainWriter struct{}

func (plainWriter) Header() http.Header         { return http.Header{} }
func (plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (plainWriter) WriteHeader(int)             {}
