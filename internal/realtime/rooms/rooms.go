package rooms

import (
	"context"
	"errors"
	"slices"
	"sync"

	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/general/websocket"
	"canteen-sync/internal/realtime/dispatch"
)

const (
	AdminRoom  = "admin-room"
	DriverRoom = "driver-room"
)

func UserRoom(id string) string           { return "user-" + id }
func DriverSpecificRoom(id string) string { return "driver-" + id }
func OrderRoom(id string) string          { return "order-" + id }
func ChatRoom(id string) string           { return "chat-" + id }

// Sender writes control frames. It returns websocket.ErrNotConnected while the
// channel is down.
type Sender interface {
	Send(frameType string, payload any) error
}

type Subscriber interface {
	On(t event.Type, fn dispatch.Handler) dispatch.ListenerID
}

type join struct {
	frame   string
	payload any
}

// Registry is the set of rooms the client wants to be in. The set survives
// disconnects and is replayed on every connected notification.
type Registry struct {
	sender Sender
	log    *logger.Logger

	mu      sync.Mutex
	desired map[string]join
	order   []string
}

func NewRegistry(sender Sender, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		sender:  sender,
		log:     log,
		desired: make(map[string]join),
	}
}

// Bind replays the desired set whenever the channel reports connected.
func (r *Registry) Bind(sub Subscriber) dispatch.ListenerID {
	return sub.On(event.TypeConnected, r.onConnected)
}

func (r *Registry) JoinUserRoom(id string) {
	r.join(UserRoom(id), contracts.FrameJoinUserRoom, contracts.RoomPayload{UserID: id})
}

func (r *Registry) JoinAdminRoom() {
	r.join(AdminRoom, contracts.FrameJoinAdminRoom, nil)
}

func (r *Registry) JoinDriverRoom() {
	r.join(DriverRoom, contracts.FrameJoinDriverRoom, nil)
}

func (r *Registry) LeaveDriverRoom() {
	r.leave(DriverRoom, contracts.FrameLeaveDriverRoom, nil)
}

func (r *Registry) JoinDriverSpecific(id string) {
	r.join(DriverSpecificRoom(id), contracts.FrameJoinDriverSpecific, contracts.RoomPayload{DriverID: id})
}

func (r *Registry) JoinOrderRoom(id string) {
	r.join(OrderRoom(id), contracts.FrameJoinOrderRoom, contracts.RoomPayload{OrderID: id})
}

func (r *Registry) LeaveOrderRoom(id string) {
	r.leave(OrderRoom(id), contracts.FrameLeaveOrderRoom, contracts.RoomPayload{OrderID: id})
}

func (r *Registry) JoinChatRoom(id string) {
	r.join(ChatRoom(id), contracts.FrameJoinChatRoom, contracts.RoomPayload{ChatID: id})
}

func (r *Registry) LeaveChatRoom(id string) {
	r.leave(ChatRoom(id), contracts.FrameLeaveChatRoom, contracts.RoomPayload{ChatID: id})
}

// Rooms returns the desired set in join order.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func (r *Registry) Has(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.desired[room]
	return ok
}

// Reset forgets every room. Used on logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desired = make(map[string]join)
	r.order = nil
}

func (r *Registry) join(room, frame string, payload any) {
	r.mu.Lock()
	if _, ok := r.desired[room]; !ok {
		r.order = append(r.order, room)
	}
	r.desired[room] = join{frame: frame, payload: payload}
	r.mu.Unlock()

	r.send(context.Background(), room, frame, payload)
}

func (r *Registry) leave(room, frame string, payload any) {
	r.mu.Lock()
	delete(r.desired, room)
	r.order = slices.DeleteFunc(r.order, func(name string) bool { return name == room })
	r.mu.Unlock()

	r.send(context.Background(), room, frame, payload)
}

func (r *Registry) onConnected(ctx context.Context, ev event.Event) error {
	userID := ev.StringField("userId")
	role, _ := user.ParseRole(ev.StringField("role"))

	r.mu.Lock()
	if userID != "" {
		r.addLocked(UserRoom(userID), contracts.FrameJoinUserRoom, contracts.RoomPayload{UserID: userID})
	}
	switch {
	case role.IsStaff():
		r.addLocked(AdminRoom, contracts.FrameJoinAdminRoom, nil)
	case role.IsDriver():
		r.addLocked(DriverRoom, contracts.FrameJoinDriverRoom, nil)
	}
	replay := make([]string, len(r.order))
	joins := make([]join, len(r.order))
	for i, room := range r.order {
		replay[i] = room
		joins[i] = r.desired[room]
	}
	r.mu.Unlock()

	r.log.Info(ctx, "rooms_replay", "rejoining rooms", map[string]any{"rooms": replay})
	for i, room := range replay {
		r.send(ctx, room, joins[i].frame, joins[i].payload)
	}
	return nil
}

func (r *Registry) addLocked(room, frame string, payload any) {
	if _, ok := r.desired[room]; !ok {
		r.order = append(r.order, room)
	}
	r.desired[room] = join{frame: frame, payload: payload}
}

// send is fire-and-forget; nothing is sent while disconnected.
func (r *Registry) send(ctx context.Context, room, frame string, payload any) {
	err := r.sender.Send(frame, payload)
	switch {
	case err == nil:
	case errors.Is(err, websocket.ErrNotConnected):
		r.log.Debug(ctx, "rooms_deferred", "not connected, room kept for replay", map[string]any{"room": room, "frame": frame})
	default:
		r.log.Warn(ctx, "rooms_send_failed", "control frame not sent", map[string]any{"room": room, "frame": frame, "error": err.Error()})
	}
}
