// Package transport sends signed protocol messages to peer endpoints.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// Route paths served by every peer.
const (
	PathInfo    = "/info"
	PathHealth  = "/health"
	PathPropose = "/propose"
	PathAccept  = "/accept"
	PathSettle  = "/settle"
	PathPayout  = "/payout"
)

const maxResponseBytes = 1 << 20

// Client is the outbound side of the P2P protocol.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	logger     *zap.Logger
}

// Config holds transport configuration.
type Config struct {
	HTTPClient *http.Client // optional
	Policy     RetryPolicy
	Logger     *zap.Logger
}

// New creates a transport client.
func New(cfg *Config) (c *Client, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-attempt deadlines come from the retry policy.
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		policy:     cfg.Policy,
		logger:     cfg.Logger,
	}, nil
}

// SendProposal delivers a signed proposal.
func (c *Client) SendProposal(ctx context.Context, endpoint string, msg *signing.SignedProposal) (*types.Ack, error) {
	return c.post(ctx, "send-proposal", endpoint, PathPropose, msg)
}

// SendAcceptance delivers a signed acceptance.
func (c *Client) SendAcceptance(ctx context.Context, endpoint string, msg *signing.SignedAcceptance) (*types.Ack, error) {
	return c.post(ctx, "send-acceptance", endpoint, PathAccept, msg)
}

// SendSettlement delivers a signed settlement agreement.
func (c *Client) SendSettlement(ctx context.Context, endpoint string, msg *signing.SignedAgreement) (*types.Ack, error) {
	return c.post(ctx, "send-settlement", endpoint, PathSettle, msg)
}

// SendCustomPayout delivers a signed custom payout proposal.
func (c *Client) SendCustomPayout(ctx context.Context, endpoint string, msg *signing.SignedPayout) (*types.Ack, error) {
	return c.post(ctx, "send-custom-payout", endpoint, PathPayout, msg)
}

// GetPeerInfo fetches the peer's identity and protocol domain.
func (c *Client) GetPeerInfo(ctx context.Context, endpoint string) (*types.PeerInfo, error) {
	body, err := c.do(ctx, "get-peer-info", http.MethodGet, endpoint, PathInfo, nil)
	if err != nil {
		return nil, err
	}

	var info types.PeerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode peer info: %w", err)
	}
	return &info, nil
}

// CheckPeerHealth reports whether the peer answers its health route.
func (c *Client) CheckPeerHealth(ctx context.Context, endpoint string) bool {
	body, err := c.do(ctx, "check-peer-health", http.MethodGet, endpoint, PathHealth, nil)
	if err != nil {
		c.logger.Debug("peer-unhealthy",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false
	}

	var health types.PeerHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

func (c *Client) post(ctx context.Context, op string, endpoint string, path string, payload interface{}) (*types.Ack, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}

	body, err := c.do(ctx, op, http.MethodPost, endpoint, path, reqBody)
	if err != nil {
		return nil, err
	}

	var ack types.Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	return &ack, nil
}

// do performs one logical request under the retry policy and returns the body
// of the successful attempt.
func (c *Client) do(ctx context.Context, op string, method string, endpoint string, path string, reqBody []byte) ([]byte, error) {
	url := strings.TrimRight(endpoint, "/") + path
	start := time.Now()

	var body []byte
	attempts, err := c.policy.Do(ctx, func(attemptCtx context.Context) error {
		b, attemptErr := c.once(attemptCtx, method, url, reqBody)
		if attemptErr != nil {
			return attemptErr
		}
		body = b
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		TransportRetriesTotal.WithLabelValues(op).Inc()
		c.logger.Warn("peer-request-retry",
			zap.String("op", op),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
	})

	TransportRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		terr := asTransportError(err)
		terr.Op = op
		terr.Endpoint = endpoint
		terr.Attempts = attempts
		TransportRequestsTotal.WithLabelValues(op, terr.Kind.String()).Inc()
		return nil, terr
	}

	TransportRequestsTotal.WithLabelValues(op, "ok").Inc()
	return body, nil
}

// once performs a single HTTP exchange.
func (c *Client) once(ctx context.Context, method string, url string, reqBody []byte) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindConnection, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		var ack types.Ack
		_ = json.Unmarshal(body, &ack)
		return nil, &Error{
			Kind:   KindRejected,
			Status: resp.StatusCode,
			Code:   ack.Code,
			Err:    errors.New(rejectionMessage(ack, body)),
		}
	}

	return body, nil
}

func rejectionMessage(ack types.Ack, body []byte) string {
	if ack.Error != "" {
		return ack.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func asTransportError(err error) *Error {
	var terr *Error
	if errors.As(err, &terr) {
		cp := *terr
		return &cp
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindConnection, Err: err}
}
