package event

import (
	"encoding/json"
	"errors"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Event is the canonical {type, action, entity} shape every listener receives.
type Event struct {
	Type       Type
	Action     Action
	Entity     map[string]any
	Wire       string // original wire name, empty for local notifications
	ReceivedAt time.Time
}

var ErrEntityNil = errors.New("event entity must not be nil")

// New builds a local event (connection notifications and the like).
func New(t Type, action Action, entity map[string]any) Event {
	return Event{
		Type:       t,
		Action:     action,
		Entity:     cloneMap(entity),
		ReceivedAt: time.Now().UTC(),
	}
}

// ID returns the entity id as a string, accepting "id", "_id" and numeric ids.
func (event Event) ID() string {
	for _, key := range []string{"id", "_id"} {
		switch v := event.Entity[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// StringField reads a string field of the entity.
func (event Event) StringField(key string) string {
	s, _ := event.Entity[key].(string)
	return s
}

// Decode re-encodes the entity into v.
func (event Event) Decode(v any) error {
	if event.Entity == nil {
		return ErrEntityNil
	}
	b, err := json.Marshal(event.Entity)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// WithField sets/overwrites a single key in Entity.
func (event *Event) WithField(key string, value any) {
	if event.Entity == nil {
		event.Entity = make(map[string]any)
	}
	event.Entity[key] = value
}

// cloneMap makes a shallow copy of a map[string]any.
func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	maps.Copy(dst, src)
	return dst
}
