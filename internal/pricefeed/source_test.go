package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewHTTPSource_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPSource(nil)
	assert.ErrorContains(t, err, "config cannot be nil")
	_, err = NewHTTPSource(&HTTPConfig{Logger: zaptest.NewLogger(t)})
	assert.ErrorContains(t, err, "base url cannot be empty")
	_, err = NewHTTPSource(&HTTPConfig{BaseURL: "http://x"})
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestHTTPSource_FetchPrices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    types.Prices
		wantErr bool
	}{
		{
			name:   "valid snapshot",
			status: http.StatusOK,
			body:   `{"prices":{"BTC":"6500000","ETH":"350000"}}`,
			want:   types.Prices{"BTC": 6_500_000, "ETH": 350_000},
		},
		{
			name:   "invalid entries skipped",
			status: http.StatusOK,
			body:   `{"prices":{"BTC":"6500000","BAD":"1.5","NEG":"-3"}}`,
			want:   types.Prices{"BTC": 6_500_000},
		},
		{
			name:   "zero price kept",
			status: http.StatusOK,
			body:   `{"prices":{"DOGE":"0"}}`,
			want:   types.Prices{"DOGE": 0},
		},
		{name: "empty snapshot", status: http.StatusOK, body: `{"prices":{}}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: true},
		{name: "bad json", status: http.StatusOK, body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "exit", r.URL.Query().Get("mode"))
				assert.Equal(t, "/prices", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src, err := NewHTTPSource(&HTTPConfig{BaseURL: srv.URL, Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)

			prices, err := src.FetchPrices(context.Background(), types.PriceModeExit)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, prices)
		})
	}
}

func TestHTTPSource_Unreachable(t *testing.T) {
	t.Parallel()

	src, err := NewHTTPSource(&HTTPConfig{BaseURL: "http://127.0.0.1:1", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = src.FetchPrices(context.Background(), types.PriceModeEntry)
	assert.Error(t, err)
}
