package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/jwt"
	"canteen-sync/internal/general/logger"

	"github.com/gorilla/websocket"
)

var (
	ErrNoIdentity     = errors.New("no identity available")
	ErrNotInitialized = errors.New("connection manager not initialized")
	ErrNotConnected   = errors.New("not connected")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrAuthTimeout    = errors.New("authentication not acknowledged")
)

// IdentityProvider resolves who the client is at Init time.
type IdentityProvider interface {
	Identity(ctx context.Context) (user.Identity, error)
}

// Events receives connection notifications and inbound frames.
type Events interface {
	Emit(ctx context.Context, t event.Type, ev event.Event)
	Ingest(ctx context.Context, wire string, data json.RawMessage) error
}

// Manager owns the single persistent channel to the backend. All network work
// happens on one supervisor goroutine; callers never block on it.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	events Events
	log    *logger.Logger

	mu       sync.Mutex
	identity *user.Identity
	conn     *websocket.Conn
	state    State
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

// supervisorKey marks a ctx handed to listeners with the done channel of the
// supervisor running them.
type supervisorKey struct{}

func NewManager(opts Options, events Events, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	opts = opts.withDefaults()
	return &Manager{
		opts:   opts,
		events: events,
		log:    log,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Init resolves the identity, tears down any existing connection and starts
// connecting in the background. A missing identity is returned, never retried.
// A listener calling Init passes the ctx it was handed.
func (m *Manager) Init(ctx context.Context, provider IdentityProvider) error {
	if provider == nil {
		return ErrNoIdentity
	}
	identity, err := provider.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	m.stop(ctx)

	m.mu.Lock()
	m.identity = &identity
	m.mu.Unlock()

	m.start(ctx, identity, false)
	return nil
}

// Reconnect closes the channel and opens it again with the identity of the last
// Init.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity == nil {
		return ErrNotInitialized
	}

	m.stop(ctx)
	m.start(ctx, *identity, true)
	return nil
}

// Close tears the channel down and forgets the identity. It returns once the
// supervisor and any listener it is running have finished.
func (m *Manager) Close() {
	m.CloseContext(context.Background())
}

// CloseContext is Close for listeners: called with the ctx a listener was
// handed, it does not wait on the supervisor running that listener.
func (m *Manager) CloseContext(ctx context.Context) {
	m.mu.Lock()
	initialized := m.identity != nil
	m.identity = nil
	m.mu.Unlock()

	m.stop(ctx)

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	if initialized {
		m.events.Emit(ctx, event.TypeDisconnected, event.New(event.TypeDisconnected, event.ActionNone, map[string]any{
			"reason": "closed",
		}))
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the identity of the last Init.
func (m *Manager) Identity() (user.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return user.Identity{}, false
	}
	return *m.identity, true
}

// Send writes one control frame. It fails with ErrNotConnected unless the
// channel is up.
func (m *Manager) Send(frameType string, payload any) error {
	frame, err := contracts.NewFrame(frameType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", frameType, err)
	}

	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", frameType, err)
	}
	return nil
}

func (m *Manager) start(ctx context.Context, identity user.Identity, reconnect bool) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	m.state = StateConnecting
	m.mu.Unlock()

	go m.supervise(runCtx, gen, identity, reconnect, done)
}

// stop cancels the running supervisor and waits for it, unless ctx belongs to
// a listener running on that supervisor.
func (m *Manager) stop(ctx context.Context) {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done = nil, nil
	m.gen++
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		m.writeClose(conn, websocket.CloseNormalClosure, "bye")
	}
	cancel()
	if self, _ := ctx.Value(supervisorKey{}).(chan struct{}); self != done {
		<-done
	}
}

func (m *Manager) supervise(ctx context.Context, gen uint64, identity user.Identity, reconnect bool, done chan struct{}) {
	ctx = context.WithValue(ctx, supervisorKey{}, done)

	var terminal func()
	defer func() {
		close(done)
		if terminal != nil {
			terminal()
		}
	}()

	failures := 0
	connectedBefore := reconnect
	for ctx.Err() == nil {
		conn, stopWatch, err := m.open(ctx, identity)
		if err == nil {
			failures = 0
			if !m.attach(gen, conn) {
				stopWatch()
				_ = conn.Close()
				return
			}
			m.log.Info(ctx, "ws_connected", "realtime channel connected", map[string]any{
				"user_id":   identity.UserID,
				"role":      identity.Role,
				"reconnect": connectedBefore,
			})
			m.emit(ctx, gen, event.TypeConnected, map[string]any{
				"userId":    identity.UserID,
				"role":      identity.Role.String(),
				"reconnect": connectedBefore,
			})
			connectedBefore = true

			stopPing := m.keepAlive(ctx, conn)
			err = m.readLoop(ctx, gen, conn)
			stopPing()
			stopWatch()
			_ = conn.Close()
			m.detach(gen, conn)
			if ctx.Err() != nil {
				return
			}
			m.log.Warn(ctx, "ws_connection_lost", "realtime channel closed unexpectedly", map[string]any{"error": errString(err)})
		} else if ctx.Err() != nil {
			return
		}

		failures++
		if failures > m.opts.MaxReconnectAttempts {
			if m.setState(gen, StateFailed) {
				m.log.Error(ctx, "ws_failed", "giving up on realtime channel", err, map[string]any{"attempts": failures - 1})
				attempts, cause := failures-1, errString(err)
				terminal = func() {
					m.emit(ctx, gen, event.TypeConnectionError, map[string]any{
						"attempts": attempts,
						"error":    cause,
					})
				}
			}
			return
		}

		delay := Backoff(m.opts.ReconnectDelay, m.opts.MaxReconnectDelay, failures)
		if !m.setState(gen, StateReconnecting) {
			return
		}
		m.log.Warn(ctx, "ws_reconnecting", "scheduling reconnect", map[string]any{
			"attempt": failures,
			"delay":   delay.String(),
			"error":   errString(err),
		})
		m.emit(ctx, gen, event.TypeReconnecting, map[string]any{
			"attempt": failures,
			"delay":   delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// open dials, authenticates and arms keep-alive. The returned stop func
// releases the ctx watcher that closes the socket on cancellation.
func (m *Manager) open(ctx context.Context, identity user.Identity) (*websocket.Conn, func() bool, error) {
	target, err := connectURL(m.opts.URL, identity)
	if err != nil {
		return nil, nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+identity.Token)
	conn, _, err := m.dialer.DialContext(dialCtx, target, header)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })

	if err := m.authenticate(conn, identity); err != nil {
		stopWatch()
		_ = conn.Close()
		return nil, nil, err
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(m.opts.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	})

	return conn, stopWatch, nil
}

func (m *Manager) authenticate(conn *websocket.Conn, identity user.Identity) error {
	deadline := time.Now().Add(m.opts.ConnectTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(jwt.NewAuthFrame(identity)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrAuthTimeout
			}
			return fmt.Errorf("read auth reply: %w", err)
		}

		var reply struct {
			Type    string `json:"type"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &reply); err != nil {
			continue
		}
		switch reply.Type {
		case contracts.FrameAuthSuccess:
			_ = conn.SetWriteDeadline(time.Time{})
			return nil
		case contracts.FrameAuthError:
			msg := reply.Error
			if msg == "" {
				msg = reply.Message
			}
			return fmt.Errorf("%w: %s", ErrAuthRejected, msg)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))

		var frame contracts.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			m.log.Warn(ctx, "ws_bad_frame", "dropping undecodable frame", map[string]any{"size": len(data)})
			continue
		}
		if ctx.Err() != nil || !m.current(gen) {
			return ctx.Err()
		}

		_ = m.events.Ingest(contextx.WithNewRequestID(ctx), frame.Type, frame.Data)
	}
}

// keepAlive pings at nine tenths of PongWait so the backend's pongs renew the
// read deadline while no frames arrive. A failed ping closes the socket, which
// ends the read loop.
func (m *Manager) keepAlive(ctx context.Context, conn *websocket.Conn) func() {
	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(max(m.opts.PongWait*9/10, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteWait))
			m.writeMu.Unlock()
			if err != nil {
				m.log.Warn(ctx, "ws_ping_failed", "failed to send ping", map[string]any{"error": err.Error()})
				_ = conn.Close()
				return
			}
		}
	}()

	return func() {
		close(quit)
		<-exited
	}
}

func (m *Manager) attach(gen uint64, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.conn = conn
	m.state = StateConnected
	return true
}

func (m *Manager) detach(gen uint64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
	if gen == m.gen && m.state == StateConnected {
		m.state = StateReconnecting
	}
}

func (m *Manager) setState(gen uint64, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.state = s
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) emit(ctx context.Context, gen uint64, t event.Type, entity map[string]any) {
	if !m.current(gen) {
		return
	}
	m.events.Emit(ctx, t, event.New(t, event.ActionNone, entity))
}

func (m *Manager) writeClose(conn *websocket.Conn, code int, reason string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func connectURL(raw string, identity user.Identity) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("userId", identity.UserID)
	q.Set("role", identity.Role.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
