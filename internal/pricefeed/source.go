// Package pricefeed adapts external price sources to a single snapshot interface.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// ErrNoPrices is returned when a source has nothing to report.
var ErrNoPrices = errors.New("no prices available")

// Source returns a ticker → price snapshot for the requested mode.
type Source interface {
	FetchPrices(ctx context.Context, mode types.PriceMode) (types.Prices, error)
}

// HTTPSource polls a price snapshot endpoint: GET {base}/prices?mode=entry|exit
// answering {"prices":{"BTC":"6500000",...}}.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPConfig holds HTTP source configuration.
type HTTPConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type snapshotResponse struct {
	Prices map[string]string `json:"prices"`
}

// NewHTTPSource creates an HTTP price source.
func NewHTTPSource(cfg *HTTPConfig) (*HTTPSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPSource{baseURL: cfg.BaseURL, httpClient: httpClient, logger: cfg.Logger}, nil
}

// FetchPrices implements Source.
func (s *HTTPSource) FetchPrices(ctx context.Context, mode types.PriceMode) (types.Prices, error) {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues("http").Observe(time.Since(start).Seconds())
	}()

	u := s.baseURL + "/prices?mode=" + url.QueryEscape(string(mode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		FetchErrorsTotal.WithLabelValues("http").Inc()
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		FetchErrorsTotal.WithLabelValues("http").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		FetchErrorsTotal.WithLabelValues("http").Inc()
		return nil, fmt.Errorf("price source returned status %d", resp.StatusCode)
	}

	var snap snapshotResponse
	if err := json.Unmarshal(body, &snap); err != nil {
		FetchErrorsTotal.WithLabelValues("http").Inc()
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	prices := make(types.Prices, len(snap.Prices))
	for ticker, raw := range snap.Prices {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.logger.Warn("invalid-price-skipped",
				zap.String("ticker", ticker),
				zap.String("raw", raw))
			continue
		}
		prices[ticker] = v
	}

	if len(prices) == 0 {
		return nil, ErrNoPrices
	}

	s.logger.Debug("prices-fetched",
		zap.String("mode", string(mode)),
		zap.Int("count", len(prices)))

	return prices, nil
}
