package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/geo"
	"canteen-sync/internal/domain/order"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/config"
	"canteen-sync/internal/general/positions"
	"canteen-sync/internal/general/postgres"
	"canteen-sync/internal/general/rabbitmq"
	"canteen-sync/internal/general/websocket"
	"canteen-sync/internal/software/pickup"
	"canteen-sync/internal/testkit/fakebackend"
)

const wait = 3 * time.Second

func testConfig(b *fakebackend.Backend) *config.Config {
	cfg := config.Default()
	cfg.Backend.HTTPURL = b.URL()
	cfg.Backend.WSURL = b.WSURL()
	cfg.Backend.HTTPTimeout = 2 * time.Second
	cfg.Realtime.ConnectTimeout = 2 * time.Second
	cfg.Realtime.ReconnectDelay = 5 * time.Millisecond
	cfg.Realtime.MaxReconnectDelay = 20 * time.Millisecond
	cfg.Tracking.Interval = 20 * time.Millisecond
	return cfg
}

type provider struct{ identity user.Identity }

func (p provider) Identity(context.Context) (user.Identity, error) { return p.identity, nil }

func started(t *testing.T, b *fakebackend.Backend, deps Deps, userID string, role user.Role) *Session {
	t.Helper()

	s := New(testConfig(b), deps, nil)
	t.Cleanup(s.Close)

	if err := s.Start(context.Background(), provider{b.Identity(t, userID, role)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fakebackend.Eventually(t, wait, func() bool { return s.State() == websocket.StateConnected })
	return s
}

type collected struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collected) handle(_ context.Context, ev event.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collected) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.ID())
	}
	return out
}

func count(xs []string, x string) int {
	n := 0
	for _, v := range xs {
		if v == x {
			n++
		}
	}
	return n
}

func TestReconnect_RejoinsOrderRoomAndKeepsListeners(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	s := started(t, b, Deps{}, "S1", user.RoleStaff)

	var got collected
	s.On(event.TypeOrderUpdated, got.handle)

	s.Rooms().JoinOrderRoom("77")
	fakebackend.Eventually(t, wait, func() bool { return count(b.JoinedOrders(), "77") == 1 })

	b.DropConnections()

	fakebackend.Eventually(t, wait, func() bool { return b.Auths() == 2 && count(b.JoinedOrders(), "77") == 2 })

	b.Push("orderUpdated", map[string]any{"order": map[string]any{"id": "77", "status": "preparing"}})

	fakebackend.Eventually(t, wait, func() bool { return slices.Contains(got.ids(), "77") })
	fakebackend.Eventually(t, wait, func() bool {
		o, ok := s.Orders().Get("77")
		return ok && o.Status == order.StatusPreparing
	})
}

func TestStaffSession_JoinsAdminRoom(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	started(t, b, Deps{}, "S1", user.RoleAdmin)

	fakebackend.Eventually(t, wait, func() bool {
		return len(b.FramesOf("join-admin-room")) == 1 && len(b.FramesOf("join-user-room")) == 1
	})
}

func TestDriverSession_PickupLifecycle(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	b.SeedOrder(order.Order{
		ID:              "77",
		Status:          order.StatusReady,
		Fulfillment:     order.FulfillmentDelivery,
		PickupCode:      "482913",
		DeliveryAddress: "Dorm B, room 12",
	})
	s := started(t, b, Deps{}, "D1", user.RoleDriver)

	fakebackend.Eventually(t, wait, func() bool {
		return len(b.FramesOf("join-driver-room")) == 1 && len(b.FramesOf("join-driver-specific")) == 1
	})

	ready, err := s.RefreshReadyOrders(context.Background())
	if err != nil {
		t.Fatalf("RefreshReadyOrders() error = %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "77" {
		t.Fatalf("ready = %+v, want order 77", ready)
	}

	before := len(b.Requests())
	if _, err := s.VerifyPickup(context.Background(), "77", "48a913"); !errors.Is(err, pickup.ErrInvalidPickupCode) {
		t.Fatalf("malformed code err = %v, want ErrInvalidPickupCode", err)
	}
	if len(b.Requests()) != before {
		t.Fatal("malformed code reached the backend")
	}

	if _, err := s.VerifyPickup(context.Background(), "77", "000000"); !errors.Is(err, pickup.ErrPickupRejected) {
		t.Fatalf("wrong code err = %v, want ErrPickupRejected", err)
	}
	if o, _ := s.Orders().Get("77"); o.Status != order.StatusReady {
		t.Fatalf("status after rejection = %s, want ready", o.Status)
	}

	out, err := s.VerifyPickup(context.Background(), "77", "482913")
	if err != nil {
		t.Fatalf("VerifyPickup() error = %v", err)
	}
	if out.Order == nil || out.Order.Status != order.StatusOutForDelivery {
		t.Fatalf("outcome order = %+v, want out_for_delivery", out.Order)
	}
	if o, _ := s.Orders().Get("77"); o.Status != order.StatusOutForDelivery || o.DriverID != "D1" {
		t.Fatalf("stored order = %+v", o)
	}
	fakebackend.Eventually(t, wait, func() bool { return count(b.JoinedOrders(), "77") == 1 })

	delivered, err := s.MarkDelivered(context.Background(), "77", "")
	if err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if delivered.Status != order.StatusDelivered {
		t.Fatalf("status = %s, want delivered", delivered.Status)
	}
	if s.Rooms().Has("order-77") {
		t.Fatal("order room still joined after delivery")
	}
}

func TestDriverOperations_RequireDriver(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)

	idle := New(testConfig(b), Deps{}, nil)
	t.Cleanup(idle.Close)
	if err := idle.StartTracking(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start err = %v, want ErrNotStarted", err)
	}

	staff := started(t, b, Deps{}, "S1", user.RoleStaff)
	if _, err := staff.RefreshReadyOrders(context.Background()); !errors.Is(err, ErrNotDriver) {
		t.Fatalf("staff err = %v, want ErrNotDriver", err)
	}

	driver := started(t, b, Deps{}, "D1", user.RoleDriver)
	if err := driver.StartTracking(context.Background()); !errors.Is(err, ErrNoPositions) {
		t.Fatalf("no positions err = %v, want ErrNoPositions", err)
	}
	if err := driver.SetTracking(context.Background(), false); err != nil {
		t.Fatalf("SetTracking(false) error = %v", err)
	}
}

func TestStart_Errors(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	s := New(testConfig(b), Deps{}, nil)
	t.Cleanup(s.Close)

	if err := s.Start(context.Background(), nil); !errors.Is(err, websocket.ErrNoIdentity) {
		t.Fatalf("nil provider err = %v, want ErrNoIdentity", err)
	}
	if err := s.Start(context.Background(), provider{user.Identity{UserID: "u", Role: user.RoleCustomer}}); !errors.Is(err, websocket.ErrNoIdentity) {
		t.Fatalf("tokenless err = %v, want ErrNoIdentity", err)
	}

	p := provider{b.Identity(t, "C1", user.RoleCustomer)}
	if err := s.Start(context.Background(), p); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background(), p); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}

	s.Close()
	if err := s.Start(context.Background(), p); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close err = %v, want ErrClosed", err)
	}
}

func TestLogout_ClearsAndAllowsRestart(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	s := started(t, b, Deps{}, "C1", user.RoleCustomer)

	s.Rooms().JoinOrderRoom("9")
	b.Push("orderCreated", map[string]any{"order": map[string]any{"id": "9", "status": "pending"}})
	fakebackend.Eventually(t, wait, func() bool { return s.Orders().Len() == 1 })

	s.Logout()

	if _, ok := s.Identity(); ok {
		t.Fatal("identity kept after logout")
	}
	if got := s.State(); got != websocket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	if len(s.Rooms().Rooms()) != 0 || s.Orders().Len() != 0 {
		t.Fatalf("rooms = %v, orders = %d after logout", s.Rooms().Rooms(), s.Orders().Len())
	}

	if err := s.Start(context.Background(), provider{b.Identity(t, "C2", user.RoleCustomer)}); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	fakebackend.Eventually(t, wait, func() bool { return s.State() == websocket.StateConnected })
	if id, _ := s.Identity(); id.UserID != "C2" {
		t.Fatalf("identity = %q, want C2", id.UserID)
	}
}

type archive struct {
	mu      sync.Mutex
	samples []geo.Sample
}

func (a *archive) Report(_ context.Context, _ string, s geo.Sample) error {
	a.mu.Lock()
	a.samples = append(a.samples, s)
	a.mu.Unlock()
	return nil
}

func (a *archive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

func TestDriverTracking_ReportsAndArchives(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	fixed, err := positions.NewFixed(50.45, 30.52)
	if err != nil {
		t.Fatalf("NewFixed() error = %v", err)
	}
	arch := &archive{}
	s := started(t, b, Deps{Positions: fixed, LocationArchive: arch}, "D1", user.RoleDriver)

	if err := s.StartTracking(context.Background()); err != nil {
		t.Fatalf("StartTracking() error = %v", err)
	}
	fakebackend.Eventually(t, wait, func() bool { return len(b.Locations()) >= 2 && arch.len() >= 2 })

	loc := b.Locations()[0]
	if loc.DriverID != "D1" || loc.Latitude != 50.45 || loc.Longitude != 30.52 {
		t.Fatalf("location = %+v", loc)
	}

	s.Logout()
	if s.Tracker().Running() {
		t.Fatal("tracker running after logout")
	}
	n := len(b.Locations())
	time.Sleep(60 * time.Millisecond)
	if got := len(b.Locations()); got != n {
		t.Fatalf("locations after logout = %d, want %d", got, n)
	}
}

type publisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *publisher) Publish(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	p.keys = append(p.keys, msg.RoutingKey)
	p.mu.Unlock()
	return nil
}

func (p *publisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.keys)
}

type snapshots struct {
	mu  sync.Mutex
	got []postgres.Snapshot
}

func (w *snapshots) Write(_ context.Context, s postgres.Snapshot) error {
	w.mu.Lock()
	w.got = append(w.got, s)
	w.mu.Unlock()
	return nil
}

func (w *snapshots) all() []postgres.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.got)
}

func TestMonitor_RelaysAndSnapshots(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	pub := &publisher{}
	snaps := &snapshots{}
	started(t, b, Deps{Publisher: pub, Snapshots: snaps}, "S1", user.RoleStaff)

	b.Push("orderCreated", map[string]any{"order": map[string]any{"id": "12", "status": "pending"}})

	fakebackend.Eventually(t, wait, func() bool { return len(pub.routingKeys()) == 1 && len(snaps.all()) == 1 })

	if key := pub.routingKeys()[0]; !strings.HasPrefix(key, "order.") {
		t.Fatalf("routing key = %q, want order.*", key)
	}
	snap := snaps.all()[0]
	if snap.Order.ID != "12" || !snap.StatusChanged {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestChatFrames(t *testing.T) {
	t.Parallel()

	b := fakebackend.New(t)
	s := started(t, b, Deps{}, "C1", user.RoleCustomer)

	if err := s.SendMessage("c-1", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty message err = %v, want ErrEmptyMessage", err)
	}
	if err := s.StartTyping("c-1"); err != nil {
		t.Fatalf("StartTyping() error = %v", err)
	}
	if err := s.SendMessage("c-1", "is my soup ready?"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if err := s.StopTyping("c-1"); err != nil {
		t.Fatalf("StopTyping() error = %v", err)
	}
	if err := s.MarkAsRead("c-1", "m-1"); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}

	fakebackend.Eventually(t, wait, func() bool {
		return len(b.FramesOf("startTyping")) == 1 &&
			len(b.FramesOf("sendMessage")) == 1 &&
			len(b.FramesOf("stopTyping")) == 1 &&
			len(b.FramesOf("markAsRead")) == 1
	})
}
