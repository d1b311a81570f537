package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/castplanhq/castplan/internal/schedule"
	"go.uber.org/zap"
)

// ConnState is the push-channel state, owned exclusively by the Manager.
type ConnState string

const (
	StateConnecting         ConnState = "connecting"
	StateOpen               ConnState = "open"
	StateClosedWithFallback ConnState = "closed-with-fallback"
)

// Message types the notification channel delivers. Both trigger a full
// reconcile pass; the payload detail is never applied as a delta because the
// transport gives no ordering or delivery guarantees.
const (
	messageTypeScheduleUpdate = "schedule_update"
	messageTypeConnected      = "connected"
)

const (
	defaultPollInterval  = time.Minute
	defaultReconnectBase = time.Second
	defaultReconnectCap  = time.Minute
	defaultMaxReconnects = 5
)

var errMissingReconcile = errors.New("realtime: reconcile callback is required")

type channelMessage struct {
	Type string `json:"type"`
}

type ManagerConfig struct {
	// Endpoint is the notification channel URL. Empty means no push transport
	// is configured and the manager runs polling-only from the start.
	Endpoint  string
	Transport Transport
	// Reconcile runs one full fetch+merge pass.
	Reconcile            func(ctx context.Context) error
	PollInterval         time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	Logger               *zap.Logger
}

// Manager keeps the push channel alive, degrades to interval polling on
// failure and reconnects with bounded exponential backoff. After the maximum
// attempt count it stays in polling-only mode for the rest of the session.
type Manager struct {
	endpoint      string
	transport     Transport
	reconcileFunc func(ctx context.Context) error
	pollInterval  time.Duration
	reconnectBase time.Duration
	reconnectCap  time.Duration
	maxReconnects int
	logger        *zap.Logger

	mu    sync.RWMutex
	state ConnState
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Reconcile == nil {
		return nil, errMissingReconcile
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewWebsocketTransport()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	reconnectBase := cfg.ReconnectBase
	if reconnectBase <= 0 {
		reconnectBase = defaultReconnectBase
	}
	reconnectCap := cfg.ReconnectCap
	if reconnectCap <= 0 {
		reconnectCap = defaultReconnectCap
	}
	maxReconnects := cfg.MaxReconnectAttempts
	if maxReconnects <= 0 {
		maxReconnects = defaultMaxReconnects
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		endpoint:      cfg.Endpoint,
		transport:     transport,
		reconcileFunc: cfg.Reconcile,
		pollInterval:  pollInterval,
		reconnectBase: reconnectBase,
		reconnectCap:  reconnectCap,
		maxReconnects: maxReconnects,
		logger:        logger,
		state:         StateConnecting,
	}, nil
}

// State reports the current channel state.
func (m *Manager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run drives the channel lifecycle until ctx is cancelled. All timers and the
// active socket are torn down with ctx; nothing outlives the call.
func (m *Manager) Run(ctx context.Context) {
	if m.endpoint == "" {
		// Valid degraded configuration, not an error.
		m.logger.Info("no push endpoint configured, polling only")
		m.setState(StateClosedWithFallback)
		m.pollForever(ctx)
		return
	}

	attempt := 0
	for {
		m.setState(StateConnecting)
		conn, err := m.transport.Dial(ctx, m.endpoint)
		if err == nil {
			attempt = 0
			m.setState(StateOpen)
			m.logger.Info("push channel open", zap.String("endpoint", m.endpoint))
			m.readLoop(ctx, conn)
		} else if ctx.Err() == nil {
			m.logger.Warn("push channel dial failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		m.setState(StateClosedWithFallback)
		if attempt >= m.maxReconnects {
			// Degraded mode for the rest of the session, not fatal.
			m.logger.Warn("reconnect attempts exhausted, polling only for this session",
				zap.Int("attempts", attempt))
			m.pollForever(ctx)
			return
		}

		delay := ReconnectDelay(attempt, m.reconnectBase, m.reconnectCap)
		attempt++
		m.logger.Info("push channel down, polling until reconnect",
			zap.Duration("reconnect_in", delay),
			zap.Int("attempt", attempt))
		if !m.pollUntil(ctx, delay) {
			return
		}
	}
}

// readLoop consumes inbound messages until the socket errors, the server
// closes, or ctx is cancelled.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()
	defer close(watchDone)
	defer conn.Close()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("push channel closed", zap.Error(err))
			}
			return
		}
		m.handleMessage(ctx, raw)
	}
}

func (m *Manager) handleMessage(ctx context.Context, raw []byte) {
	var message channelMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		m.logger.Warn("unparseable channel message", zap.Error(err))
		return
	}
	switch message.Type {
	case messageTypeScheduleUpdate, messageTypeConnected:
		m.runReconcile(ctx)
	default:
		m.logger.Debug("ignoring channel message", zap.String("type", message.Type))
	}
}

// pollUntil reconciles on the poll interval until the reconnect delay
// elapses. It returns false when ctx was cancelled.
func (m *Manager) pollUntil(ctx context.Context, delay time.Duration) bool {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	reconnect := time.NewTimer(delay)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-reconnect.C:
			return true
		case <-ticker.C:
			m.runReconcile(ctx)
		}
	}
}

func (m *Manager) pollForever(ctx context.Context) {
	m.runReconcile(ctx)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runReconcile(ctx)
		}
	}
}

func (m *Manager) runReconcile(ctx context.Context) {
	err := m.reconcileFunc(ctx)
	switch {
	case err == nil:
	case errors.Is(err, schedule.ErrReconcileInFlight):
		m.logger.Debug("reconcile pass already running, change signal coalesced")
	case ctx.Err() != nil:
	default:
		m.logger.Warn("reconcile pass failed, will retry on next signal", zap.Error(err))
	}
}

func (m *Manager) setState(state ConnState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
