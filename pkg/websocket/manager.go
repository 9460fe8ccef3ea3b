// Package websocket streams price ticks from a price source over a single
// reconnecting WebSocket connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// Manager manages a single WebSocket connection to the price stream.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	tickChan        chan types.PriceTick
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	writeMu         sync.Mutex
	subscribed      map[string]bool
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64
	closeOnce       sync.Once
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

type controlMessage struct {
	Type    string   `json:"type"`
	Tickers []string `json:"tickers,omitempty"`
}

// New creates a new WebSocket manager.
func New(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		tickChan:     make(chan types.PriceTick, cfg.MessageBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
	}, nil
}

// Start dials the stream and starts the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("price-stream-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// Connected reports whether the stream is currently up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("price-stream-connected")

	return nil
}

// Subscribe adds tickers to the stream. Already subscribed tickers are skipped.
func (m *Manager) Subscribe(tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	m.mu.Lock()
	fresh := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if !m.subscribed[t] {
			fresh = append(fresh, t)
			m.subscribed[t] = true
		}
	}
	total := len(m.subscribed)
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	err := m.write(controlMessage{Type: "subscribe", Tickers: fresh})
	if err != nil {
		m.mu.Lock()
		for _, t := range fresh {
			delete(m.subscribed, t)
		}
		total = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(total))
	m.logger.Info("subscribed-to-tickers",
		zap.Int("new-count", len(fresh)),
		zap.Int("total-count", total))

	return nil
}

// Subscribed returns the subscribed tickers in sorted order.
func (m *Manager) Subscribed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.subscribed))
	for t := range m.subscribed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) write(msg controlMessage) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return errors.New("not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("read-error", zap.Error(err))
			}

			if start := m.connectionStart.Load(); start > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(start, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		m.dispatch(message)
	}
}

// dispatch decodes one frame. The stream sends either a JSON array of ticks
// or a control object such as {"type":"heartbeat"}.
func (m *Manager) dispatch(message []byte) {
	var ticks []types.PriceTick
	if err := json.Unmarshal(message, &ticks); err != nil {
		var ctrl controlMessage
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type != "" {
			MessagesReceivedTotal.WithLabelValues(ctrl.Type).Inc()
			return
		}

		MessagesDroppedTotal.WithLabelValues("unparseable").Inc()
		m.logger.Debug("price-stream-unparseable-message",
			zap.Error(err),
			zap.Int("bytes", len(message)))
		return
	}

	for _, tick := range ticks {
		MessagesReceivedTotal.WithLabelValues("tick").Inc()

		select {
		case m.tickChan <- tick:
		default:
			m.logger.Warn("tick-channel-full", zap.String("ticker", tick.Ticker))
			MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
		}
	}
}

func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		if err := m.resubscribeAll(); err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.wg.Add(1)
		go m.readLoop()
	}
}

func (m *Manager) resubscribeAll() error {
	tickers := m.Subscribed()
	if len(tickers) == 0 {
		return nil
	}

	if err := m.write(controlMessage{Type: "subscribe", Tickers: tickers}); err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tickers", zap.Int("count", len(tickers)))
	return nil
}

// TickChan returns the channel of received ticks. It is closed by Close.
func (m *Manager) TickChan() <-chan types.PriceTick {
	return m.tickChan
}

// Close stops all loops and closes the connection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Info("closing-price-stream")

		m.cancel()

		m.mu.RLock()
		if m.conn != nil {
			_ = m.conn.Close()
		}
		m.mu.RUnlock()

		m.wg.Wait()
		close(m.tickChan)
		ActiveConnections.Set(0)
	})

	return nil
}
