package flux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// ============================================================================
// Channel Adapter
// ============================================================================

// EventHandler receives the raw payload of one push event.
type EventHandler func(payload json.RawMessage)

// Channel is a persistent bidirectional event channel.
//
// Send is fire-and-forget: there is no acknowledgement and no delivery
// guarantee. Handlers registered with Subscribe run once per received event,
// in arrival order. The meta-event EventConnect fires after every (re)connect.
type Channel interface {
	Send(ctx context.Context, event string, payload any) error
	Subscribe(event string, h EventHandler)
	UnsubscribeAll()
}

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// SocketConfig configures a Socket.
type SocketConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int // 0 retries forever
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	ReadLimit            int64
	Logger               *zerolog.Logger
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
}

// SocketState represents the connection state.
type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateReconnecting SocketState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]EventHandler)}
}

func (d *dispatcher) add(event string, h EventHandler) {
	d.mu.Lock()
	d.handlers[event] = append(d.handlers[event], h)
	d.mu.Unlock()
}

func (d *dispatcher) clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]EventHandler)
	d.mu.Unlock()
}

// dispatch runs handlers synchronously so that arrival order is preserved.
func (d *dispatcher) dispatch(event string, payload json.RawMessage, logger zerolog.Logger) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[event]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("event", event).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(payload)
		}()
	}
}

// ============================================================================
// Socket
// ============================================================================

// Socket is a WebSocket Channel with auto-reconnect and heartbeat.
type Socket struct {
	url        string
	config     *SocketConfig
	log        zerolog.Logger
	dispatcher *dispatcher

	mu               sync.Mutex
	conn             *websocket.Conn
	state            SocketState
	intentionalClose bool
	runCtx           context.Context
	cancelFn         context.CancelFunc
}

var _ Channel = (*Socket)(nil)

// NewSocket creates a socket for rawURL. Call Connect to establish the connection.
func NewSocket(rawURL string, config *SocketConfig) *Socket {
	var cfg SocketConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Socket{
		url:        rawURL,
		config:     &cfg,
		log:        logger.With().Str("component", "socket").Logger(),
		dispatcher: newDispatcher(),
		state:      StateDisconnected,
	}
}

// Subscribe registers a handler for event.
func (s *Socket) Subscribe(event string, h EventHandler) {
	s.dispatcher.add(event, h)
}

// UnsubscribeAll removes every registered handler.
func (s *Socket) UnsubscribeAll() {
	s.dispatcher.clear()
}

// State returns the current connection state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(st SocketState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect establishes the connection. It is a no-op while connected or
// already (re)connecting.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected, StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.intentionalClose = false
	if s.cancelFn == nil {
		s.runCtx, s.cancelFn = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	return nil
}

func (s *Socket) dialURL() string {
	if s.config.Token == "" {
		return s.url
	}
	return s.url + "?token=" + url.QueryEscape(s.config.Token)
}

func (s *Socket) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(s.config.ReadLimit)

	s.mu.Lock()
	if s.intentionalClose {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	s.conn = conn
	s.state = StateConnected
	runCtx := s.runCtx
	s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("connected")
	s.dispatcher.dispatch(EventConnect, nil, s.log)

	go s.readLoop(runCtx, conn)
	go s.heartbeatLoop(runCtx, conn)
	return nil
}

// Close gracefully closes the connection and stops reconnecting.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.intentionalClose = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancelFn
	s.cancelFn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("close handshake")
	}
	return nil
}

// Send writes one event frame. It fails with ErrNotConnected when there is no
// live connection; nothing is queued.
func (s *Socket) Send(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			current := s.conn == conn
			if current {
				s.conn = nil
				s.state = StateDisconnected
			}
			s.mu.Unlock()
			if intentional || !current || ctx.Err() != nil {
				return
			}

			s.log.Warn().Err(err).Msg("connection lost")
			if s.config.AutoReconnect {
				s.reconnect(ctx)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.log.Debug().Msg("dropping malformed frame")
			continue
		}
		s.dispatcher.dispatch(env.Event, env.Data, s.log)
	}
}

func (s *Socket) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.conn == conn
			s.mu.Unlock()
			if !current {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Heartbeat failed; the read loop notices the close and reconnects.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *Socket) reconnect(ctx context.Context) {
	s.setState(StateReconnecting)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.config.ReconnectBaseDelay
	exp.MaxInterval = s.config.ReconnectMaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	var policy backoff.BackOff = exp
	if s.config.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(exp, uint64(s.config.MaxReconnectAttempts))
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		reconnectsTotal.Inc()
		err := s.dial(ctx)
		if errors.Is(err, ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("reconnect failed")
	})
	if err != nil {
		s.mu.Lock()
		if s.conn == nil {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		if !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			s.log.Error().Err(err).Int("attempts", attempt).Msg("giving up reconnecting")
		}
	}
}
