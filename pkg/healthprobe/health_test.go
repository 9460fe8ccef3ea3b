package healthprobe

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc, path string) (int, HealthResponse, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler(w, req)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp, w.Header().Get("Content-Type")
}

func TestNew(t *testing.T) {
	t.Parallel()

	hc := New()
	require.NotNil(t, hc)
	assert.WithinDuration(t, time.Now(), hc.startTime, time.Second)
	assert.False(t, hc.ready.Load(), "should not be ready by default")
}

func TestSetReady_Toggle(t *testing.T) {
	t.Parallel()

	hc := New()
	hc.SetReady(true)
	assert.True(t, hc.ready.Load())
	hc.SetReady(false)
	assert.False(t, hc.ready.Load())
}

func TestHealth_AlwaysOK(t *testing.T) {
	t.Parallel()

	for _, ready := range []bool{true, false} {
		hc := New()
		hc.SetReady(ready)

		code, resp, contentType := serve(t, hc.Health(), "/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", resp.Status)
		assert.NotEmpty(t, resp.Uptime)
		assert.Equal(t, "application/json", contentType)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		ready        bool
		degraded     []string
		wantCode     int
		wantStatus   string
		wantDegraded []string
	}{
		{name: "starting", ready: false, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
		{name: "ready", ready: true, wantCode: http.StatusOK, wantStatus: "ready"},
		{
			name:         "ready on fallbacks",
			ready:        true,
			degraded:     []string{"backend", "price-source"},
			wantCode:     http.StatusOK,
			wantStatus:   "degraded",
			wantDegraded: []string{"backend", "price-source"},
		},
		{
			name:       "degraded ignored while starting",
			ready:      false,
			degraded:   []string{"backend"},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hc := New()
			hc.SetReady(tt.ready)
			if tt.degraded != nil {
				hc.SetDegradedSource(func() []string { return tt.degraded })
			}

			code, resp, _ := serve(t, hc.Ready(), "/ready")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantDegraded, resp.Degraded)
			if !tt.ready {
				assert.NotEmpty(t, resp.Message)
			}
		})
	}
}
