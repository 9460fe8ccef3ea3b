// Package p2p serves the inbound side of the peer protocol.
//
// Every write route runs the same pipeline before its handler sees a message:
// JSON parse, required fields, expiry, signature, per-source rate limit.
// Settlement routes additionally require the signer to be a party of the bet.
//
// The response is decided by that pipeline alone. Accepted messages are
// queued and handled by Run's workers, detached from the request, and each
// message hash is dispatched at most once while it is unexpired.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/transport"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 64 << 10

	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultHandlerTimeout = 3 * time.Minute
)

// Handler receives messages that passed validation. Its errors are logged
// and never change the response already decided by validation.
type Handler interface {
	HandleProposal(ctx context.Context, p *signing.TradeProposal, sig []byte) error
	HandleAcceptance(ctx context.Context, a *signing.TradeAcceptance, sig []byte) error
	HandleSettlement(ctx context.Context, a *signing.SettlementAgreement, signer common.Address, sig []byte) error
	HandleCustomPayout(ctx context.Context, p *signing.CustomPayoutProposal, signer common.Address, sig []byte) error
}

// BetReader looks up bets to authorize settlement messages.
type BetReader interface {
	GetBet(ctx context.Context, betID uint64) (*types.BetRecord, error)
}

// Listener is the inbound P2P HTTP server.
type Listener struct {
	domain  signing.Domain
	info    types.PeerInfo
	handler Handler
	bets    BetReader
	limiter *RateLimiter
	now     func() time.Time
	logger  *zap.Logger

	jobs           chan job
	workers        int
	handlerTimeout time.Duration

	seenMu sync.Mutex
	seen   map[common.Hash]uint64 // message hash -> expiry

	router chi.Router
	server *http.Server
}

type job struct {
	route string
	hash  common.Hash
	in    *inbound
}

// Config holds listener configuration.
type Config struct {
	Port           string
	Domain         signing.Domain
	Self           common.Address
	PublicEndpoint string
	Handler        Handler
	Bets           BetReader
	RatePerSecond  float64
	RateBurst      int
	Workers        int           // handler workers, default 4
	QueueSize      int           // accepted messages awaiting a worker, default 256
	HandlerTimeout time.Duration // per message, default 3m; must cover a receipt wait
	Now            func() time.Time
	Logger         *zap.Logger
}

// New creates a listener.
func New(cfg *Config) (*Listener, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if cfg.Bets == nil {
		return nil, fmt.Errorf("bet reader cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id cannot be nil")
	}
	if cfg.RatePerSecond <= 0 {
		return nil, fmt.Errorf("rate per second must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}

	l := &Listener{
		domain:  cfg.Domain,
		handler: cfg.Handler,
		bets:    cfg.Bets,
		limiter: NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst, now),
		now:     now,
		logger:  cfg.Logger,

		jobs:           make(chan job, queueSize),
		workers:        workers,
		handlerTimeout: handlerTimeout,
		seen:           make(map[common.Hash]uint64),

		info: types.PeerInfo{
			Address:           cfg.Self.Hex(),
			Endpoint:          cfg.PublicEndpoint,
			ProtocolName:      cfg.Domain.Name,
			ProtocolVersion:   cfg.Domain.Version,
			ChainID:           cfg.Domain.ChainID.String(),
			VerifyingContract: cfg.Domain.VerifyingContract.Hex(),
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors)

	r.Get(transport.PathInfo, l.handleInfo)
	r.Get(transport.PathHealth, l.handleHealth)
	r.Post(transport.PathPropose, l.route("propose", decodeProposal))
	r.Post(transport.PathAccept, l.route("accept", decodeAcceptance))
	r.Post(transport.PathSettle, l.route("settle", decodeSettlement))
	r.Post(transport.PathPayout, l.route("payout", decodePayout))
	l.router = r

	l.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return l, nil
}

// Router returns the HTTP handler, for embedding and tests.
func (l *Listener) Router() http.Handler {
	return l.router
}

// Start serves until Shutdown. It blocks.
func (l *Listener) Start() error {
	l.logger.Info("p2p-listener-starting", zap.String("addr", l.server.Addr))

	err := l.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.logger.Info("p2p-listener-shutting-down")

	if err := l.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Run hands queued messages to the handler until ctx is done. A message
// already being handled finishes under its own timeout.
func (l *Listener) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.work(ctx)
		}()
	}
	wg.Wait()

	if n := len(l.jobs); n > 0 {
		l.logger.Warn("p2p-queue-abandoned", zap.Int("messages", n))
	}
	return ctx.Err()
}

func (l *Listener) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-l.jobs:
			QueueDepth.Set(float64(len(l.jobs)))
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.handlerTimeout)
			l.invoke(hctx, j.route, j.in)
			cancel()
		}
	}
}

// RunSweeper drops idle rate-limit buckets and expired message hashes every
// interval until ctx is done.
func (l *Listener) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.limiter.Sweep(); n > 0 {
				l.logger.Debug("rate-limit-sources-swept", zap.Int("dropped", n))
			}
			if n := l.sweepSeen(); n > 0 {
				l.logger.Debug("message-hashes-swept", zap.Int("dropped", n))
			}
		}
	}
}

func (l *Listener) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, l.info)
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.PeerHealth{Status: "healthy", Timestamp: l.now().Unix()})
}

func (l *Listener) route(name string, decode decoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}()

		in, status, perr := l.validate(w, r, decode)
		if perr != nil {
			RequestsTotal.WithLabelValues(name, perr.Code).Inc()
			l.logger.Info("p2p-message-rejected",
				zap.String("route", name),
				zap.String("code", perr.Code),
				zap.String("reason", perr.Message),
				zap.String("source", clientIP(r)))
			writeJSON(w, status, types.Ack{Success: false, Error: perr.Message, Code: perr.Code})
			return
		}

		hash, err := signing.Hash(l.domain, in.msg)
		if err != nil {
			RequestsTotal.WithLabelValues(name, types.ErrCodeInvalidJSON).Inc()
			writeJSON(w, http.StatusBadRequest, types.Ack{Success: false, Error: err.Error(), Code: types.ErrCodeInvalidJSON})
			return
		}
		ack := types.Ack{Success: true, Hash: hash.Hex()}

		if !l.remember(hash, in.msg.ExpiresAt()) {
			RequestsTotal.WithLabelValues(name, "DUPLICATE").Inc()
			writeJSON(w, http.StatusOK, ack)
			return
		}

		select {
		case l.jobs <- job{route: name, hash: hash, in: in}:
			QueueDepth.Set(float64(len(l.jobs)))
		default:
			l.forget(hash)
			RequestsTotal.WithLabelValues(name, types.ErrCodeUnavailable).Inc()
			l.logger.Warn("p2p-queue-full",
				zap.String("route", name),
				zap.String("hash", hash.Hex()))
			writeJSON(w, http.StatusServiceUnavailable, types.Ack{
				Success: false,
				Error:   "handler queue full",
				Code:    types.ErrCodeUnavailable,
			})
			return
		}

		RequestsTotal.WithLabelValues(name, "OK").Inc()
		writeJSON(w, http.StatusOK, ack)
	}
}

// remember records hash and reports whether it was new.
func (l *Listener) remember(hash common.Hash, expiry uint64) bool {
	l.seenMu.Lock()
	defer l.seenMu.Unlock()
	if _, dup := l.seen[hash]; dup {
		return false
	}
	l.seen[hash] = expiry
	return true
}

func (l *Listener) forget(hash common.Hash) {
	l.seenMu.Lock()
	delete(l.seen, hash)
	l.seenMu.Unlock()
}

// sweepSeen drops hashes of messages that have expired; the pipeline rejects
// them before the dedupe check anyway.
func (l *Listener) sweepSeen() int {
	now := uint64(l.now().Unix())

	l.seenMu.Lock()
	defer l.seenMu.Unlock()

	dropped := 0
	for h, expiry := range l.seen {
		if expiry < now {
			delete(l.seen, h)
			dropped++
		}
	}
	return dropped
}

// validate runs the pipeline and returns the HTTP status to use on failure.
func (l *Listener) validate(w http.ResponseWriter, r *http.Request, decode decoder) (*inbound, int, *types.ProtocolError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, http.StatusBadRequest, invalidJSON(err)
	}

	in, perr := decode(body)
	if perr != nil {
		return nil, http.StatusBadRequest, perr
	}

	now := l.now().Unix()
	if in.msg.ExpiresAt() < uint64(now) {
		return nil, http.StatusBadRequest, &types.ProtocolError{
			Code:    types.ErrCodeExpired,
			Message: "message expired at " + strconv.FormatUint(in.msg.ExpiresAt(), 10),
		}
	}

	sig, err := signing.DecodeSignature(in.sigHex)
	if err != nil {
		return nil, http.StatusUnauthorized, &types.ProtocolError{Code: types.ErrCodeInvalidSignature, Message: err.Error()}
	}
	verdict := signing.Verify(l.domain, in.msg, sig, in.claimed, now)
	if !verdict.Valid {
		var pe *types.ProtocolError
		errors.As(verdict.Err(), &pe)
		return nil, http.StatusUnauthorized, pe
	}

	if !l.limiter.Allow(clientIP(r)) {
		return nil, http.StatusTooManyRequests, &types.ProtocolError{Code: types.ErrCodeRateLimited, Message: "rate limit exceeded"}
	}

	if in.needsParty {
		status, perr := l.authorizeParty(r.Context(), in)
		if perr != nil {
			return nil, status, perr
		}
	}

	in.sig = sig
	return in, http.StatusOK, nil
}

func (l *Listener) authorizeParty(ctx context.Context, in *inbound) (int, *types.ProtocolError) {
	bet, err := l.bets.GetBet(ctx, in.betID)
	if err != nil {
		if be, ok := types.AsBusinessError(err); ok {
			return http.StatusNotFound, &types.ProtocolError{Code: be.Code, Message: be.Message}
		}
		l.logger.Warn("bet-lookup-failed", zap.Uint64("bet-id", in.betID), zap.Error(err))
		return http.StatusServiceUnavailable, &types.ProtocolError{Code: types.ErrCodeUnavailable, Message: "bet lookup failed"}
	}
	if !bet.IsParty(in.claimed) {
		return http.StatusUnauthorized, &types.ProtocolError{
			Code:    types.ErrCodeSignerMismatch,
			Message: "signer is not a party of bet " + strconv.FormatUint(in.betID, 10),
		}
	}
	return http.StatusOK, nil
}

// invoke runs the handler, absorbing errors and panics.
func (l *Listener) invoke(ctx context.Context, name string, in *inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			HandlerErrorsTotal.WithLabelValues(name, "panic").Inc()
			l.logger.Error("p2p-handler-panic",
				zap.String("route", name),
				zap.Any("panic", rec))
		}
	}()

	if err := in.dispatch(ctx, l.handler, in.sig); err != nil {
		HandlerErrorsTotal.WithLabelValues(name, "error").Inc()
		l.logger.Warn("p2p-handler-failed",
			zap.String("route", name),
			zap.String("signer", in.claimed.Hex()),
			zap.Error(err))
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's source address. RealIP has already applied
// X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
