// Package fakebackend is an in-process canteen backend for tests: a realtime
// socket that speaks the auth handshake and records control frames, and the
// REST routes the client calls.
package fakebackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/jwt"

	"github.com/gorilla/websocket"
)

const Secret = "fakebackend-secret"

// Received is one control frame sent by a client.
type Received struct {
	UserID string
	Type   string
	Data   json.RawMessage
}

type client struct {
	conn    *websocket.Conn
	userID  string
	role    user.Role
	writeMu sync.Mutex
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Backend is safe for concurrent use.
type Backend struct {
	srv      *httptest.Server
	tokens   *jwt.Manager
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*client]struct{}
	frames      []Received
	auths       int
	refuse      bool
	rejectAuth  bool
	bareVerify  bool
	locStatus   int
	orders      map[string]order.Order
	drivers     map[string]driver.Driver
	passwords   map[string]string
	locations   []contracts.DriverLocationPayload
	requests    []string
	nextOrderID int
}

// New starts a backend that is shut down when the test ends.
func New(tb testing.TB) *Backend {
	tb.Helper()

	tokens, err := jwt.NewManager(Secret, time.Hour)
	if err != nil {
		tb.Fatalf("fakebackend: %v", err)
	}
	b := &Backend{
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		orders:    make(map[string]order.Order),
		drivers:   make(map[string]driver.Driver),
		passwords: make(map[string]string),
	}
	b.srv = httptest.NewServer(b.routes())
	tb.Cleanup(b.Close)
	return b
}

func (b *Backend) Close() {
	b.DropConnections()
	b.srv.Close()
}

// URL is the REST base URL.
func (b *Backend) URL() string { return b.srv.URL }

// WSURL is the realtime socket URL.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

// Token mints a token the backend accepts.
func (b *Backend) Token(tb testing.TB, userID string, role user.Role) string {
	tb.Helper()
	tok, _, err := b.tokens.IssueUserToken(userID, role)
	if err != nil {
		tb.Fatalf("fakebackend: issue token: %v", err)
	}
	return tok
}

func (b *Backend) Identity(tb testing.TB, userID string, role user.Role) user.Identity {
	tb.Helper()
	return user.Identity{UserID: userID, Role: role, Token: b.Token(tb, userID, role)}
}

// Refuse makes socket upgrades fail with 503.
func (b *Backend) Refuse(refuse bool) {
	b.mu.Lock()
	b.refuse = refuse
	b.mu.Unlock()
}

// RejectAuth answers every auth frame with auth_error.
func (b *Backend) RejectAuth(reject bool) {
	b.mu.Lock()
	b.rejectAuth = reject
	b.mu.Unlock()
}

// DropConnections closes every socket without a close frame.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Connected is the number of authenticated sockets.
func (b *Backend) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Auths counts successful handshakes since start.
func (b *Backend) Auths() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auths
}

// Push sends a data frame to every authenticated socket and returns how many
// received it.
func (b *Backend) Push(wire string, data any) int {
	return b.push(func(*client) bool { return true }, wire, data)
}

// PushTo sends a data frame to the sockets of one user.
func (b *Backend) PushTo(userID, wire string, data any) int {
	return b.push(func(c *client) bool { return c.userID == userID }, wire, data)
}

func (b *Backend) push(match func(*client) bool, wire string, data any) int {
	frame, err := contracts.NewFrame(wire, data)
	if err != nil {
		return 0
	}

	b.mu.Lock()
	var targets []*client
	for c := range b.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, c := range targets {
		if err := c.write(frame); err == nil {
			n++
		}
	}
	return n
}

// Frames returns the control frames received so far.
func (b *Backend) Frames() []Received {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Received, len(b.frames))
	copy(out, b.frames)
	return out
}

// FramesOf returns the received frames of one type.
func (b *Backend) FramesOf(frameType string) []Received {
	var out []Received
	for _, f := range b.Frames() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// JoinedOrders lists the order ids of every join-order-room frame, in order.
func (b *Backend) JoinedOrders() []string {
	var out []string
	for _, f := range b.FramesOf(contracts.FrameJoinOrderRoom) {
		var p contracts.RoomPayload
		if json.Unmarshal(f.Data, &p) == nil {
			out = append(out, p.OrderID)
		}
	}
	return out
}

func (b *Backend) ResetFrames() {
	b.mu.Lock()
	b.frames = nil
	b.mu.Unlock()
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(tb testing.TB, timeout time.Duration, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *Backend) handleWS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	refuse := b.refuse
	b.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	b.mu.Lock()
	reject := b.rejectAuth
	b.mu.Unlock()

	c := &client{conn: conn}
	res, err := jwt.ValidateWSAuth(data, b.tokens)
	if err == nil && reject {
		err = jwt.ErrRoleForbidden
	}
	if err != nil {
		_ = c.write(map[string]string{"type": contracts.FrameAuthError, "error": err.Error()})
		return
	}

	c.userID = res.Claims.UserID
	c.role, _ = user.ParseRole(res.Claims.Role)
	if err := c.write(map[string]any{"type": contracts.FrameAuthSuccess, "data": contracts.AuthResult{UserID: c.userID, Role: c.role.String()}}); err != nil {
		return
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.auths++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
	}()

	_ = conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame contracts.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		b.mu.Lock()
		b.frames = append(b.frames, Received{UserID: c.userID, Type: frame.Type, Data: frame.Data})
		b.mu.Unlock()
	}
}
