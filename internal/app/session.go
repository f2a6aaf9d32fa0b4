package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/config"
	"canteen-sync/internal/general/httpapi"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/general/postgres"
	"canteen-sync/internal/general/rabbitmq"
	"canteen-sync/internal/general/websocket"
	"canteen-sync/internal/realtime/dispatch"
	"canteen-sync/internal/realtime/rooms"
	"canteen-sync/internal/software/orders"
	"canteen-sync/internal/software/pickup"
	"canteen-sync/internal/software/tracking"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrNoPositions    = errors.New("no position source configured")
	ErrNotDriver      = errors.New("signed-in user is not a driver")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
)

const relayBuffer = 256

// Deps are the optional collaborators of a session. Nil fields disable the
// matching component. LocationArchive receives every location the backend
// accepted.
type Deps struct {
	Positions       tracking.PositionSource
	Alerter         tracking.Alerter
	LocationArchive tracking.Reporter
	Publisher       rabbitmq.Publisher
	Snapshots       postgres.SnapshotWriter
}

// Session owns one signed-in client: the channel, its rooms, the order store
// and the driver pipelines. Nothing in it is global; a process may run several.
type Session struct {
	cfg *config.Config
	log *logger.Logger

	events  *dispatch.Dispatcher
	conn    *websocket.Manager
	rooms   *rooms.Registry
	store   *orders.Store
	api     *httpapi.Client
	pickup  *pickup.Workflow
	tracker *tracking.Tracker
	relay   *rabbitmq.EventRelay
	sink    *postgres.SnapshotSink

	mu       sync.Mutex
	identity *user.Identity
	binding  *orders.Binding
	closed   bool
}

func New(cfg *config.Config, deps Deps, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Session{cfg: cfg, log: log}

	s.events = dispatch.New(log)
	s.conn = websocket.NewManager(websocket.OptionsFromConfig(cfg), s.events, log)
	s.rooms = rooms.NewRegistry(s.conn, log)
	s.rooms.Bind(s.events)
	s.store = orders.NewStore(log)
	s.api = httpapi.NewClient(cfg.Backend.HTTPURL, cfg.Backend.HTTPTimeout, s.token, log)
	s.pickup = pickup.NewWorkflow(s.api, s.store, log)

	if deps.Positions != nil {
		reporter := tracking.NewReporter(cfg.Tracking.Transport, s.api, s.conn)
		if deps.LocationArchive != nil {
			reporter = tracking.Archived{Primary: reporter, Archive: deps.LocationArchive, Log: log}
		}
		alerter := deps.Alerter
		if alerter == nil {
			alerter = tracking.AlertFunc(func(ctx context.Context, err error) {
				log.Error(ctx, "tracking_alert", "location tracking needs attention", err, nil)
			})
		}
		s.tracker = tracking.NewTracker(deps.Positions, reporter, alerter, cfg.Tracking.Interval, log)
	}

	if deps.Publisher != nil {
		s.relay = rabbitmq.NewEventRelay(deps.Publisher, cfg.Service, relayBuffer, log)
		s.relay.Bind(s.events)
	}
	if deps.Snapshots != nil {
		s.sink = postgres.NewSnapshotSink(deps.Snapshots, relayBuffer, log)
		s.sink.Attach(s.store)
	}

	return s
}

// Start resolves the identity, binds the order store to the view of that user
// and opens the channel. Connecting continues in the background.
func (s *Session) Start(ctx context.Context, provider websocket.IdentityProvider) error {
	if provider == nil {
		return websocket.ErrNoIdentity
	}
	identity, err := provider.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", websocket.ErrNoIdentity, err)
	}
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", websocket.ErrNoIdentity, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.identity != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.identity = &identity
	s.binding = s.store.Bind(s.events, viewFor(identity))
	s.mu.Unlock()

	if identity.Role.IsDriver() {
		s.rooms.JoinDriverSpecific(identity.UserID)
	}

	if err := s.conn.Init(ctx, fixedIdentity(identity)); err != nil {
		s.Logout()
		return err
	}

	s.log.Info(ctx, "session_started", "session started", map[string]any{
		"user_id": identity.UserID,
		"role":    identity.Role.String(),
	})
	return nil
}

// Logout stops tracking, forgets rooms and orders and closes the channel. The
// session can be started again afterwards.
func (s *Session) Logout() {
	if s.tracker != nil {
		s.tracker.Stop()
	}

	s.mu.Lock()
	binding := s.binding
	s.binding = nil
	s.identity = nil
	s.mu.Unlock()

	if binding != nil {
		binding.Unbind()
	}
	s.conn.Close()
	s.rooms.Reset()
	s.store.Clear()
}

// Close logs out and flushes the relay and the snapshot sink. The session
// cannot be started again.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Logout()
	if s.relay != nil {
		s.relay.Close()
	}
	if s.sink != nil {
		s.sink.Close()
	}
}

// Identity is the signed-in user, if any.
func (s *Session) Identity() (user.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return user.Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) On(t event.Type, fn dispatch.Handler) dispatch.ListenerID {
	return s.events.On(t, fn)
}

func (s *Session) Off(t event.Type, id dispatch.ListenerID) bool {
	return s.events.Off(t, id)
}

// Reconnect forces the channel down and up again with the current identity.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.conn.Reconnect(ctx)
}

func (s *Session) State() websocket.State     { return s.conn.State() }
func (s *Session) Rooms() *rooms.Registry     { return s.rooms }
func (s *Session) Orders() *orders.Store      { return s.store }
func (s *Session) API() *httpapi.Client       { return s.api }
func (s *Session) Pickup() *pickup.Workflow   { return s.pickup }
func (s *Session) Tracker() *tracking.Tracker { return s.tracker }

func (s *Session) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Token
}

// viewFor picks the order view of a role. Drivers see their own deliveries and
// the ready ones nobody took yet; everyone else sees what the backend sends.
func viewFor(identity user.Identity) orders.Filter {
	if identity.Role.IsDriver() {
		return orders.ReadyForDrivers(identity.UserID)
	}
	return nil
}

// fixedIdentity hands the already-resolved identity to the connection manager
// so Init and every later Reconnect use the same one.
type fixedIdentity user.Identity

func (f fixedIdentity) Identity(context.Context) (user.Identity, error) {
	return user.Identity(f), nil
}
