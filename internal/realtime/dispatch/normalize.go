package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"canteen-sync/internal/domain/event"
)

var (
	ErrNoEntity  = errors.New("no entity in frame")
	ErrMissingID = errors.New("entity has no id")
)

// maxUnwrap is the deepest wrapper seen in the wild: frame.data.data.data.
const maxUnwrap = 3

// frame is one inbound payload after unwrapping.
type frame struct {
	action event.Action
	entity map[string]any
	// kind is the outermost "type" string, read before any wrapper is peeled.
	kind string
}

// normalize unwraps a frame payload to a single {action, entity}. Wrappers are
// peeled while the current level has no id and holds a map under "data" or one
// of the route's named keys. An "action" found on any level overrides the
// route default.
func normalize(raw json.RawMessage, route Route) (frame, error) {
	if len(raw) == 0 {
		return frame{}, ErrNoEntity
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrNoEntity, err)
	}
	cur, ok := decoded.(map[string]any)
	if !ok {
		return frame{}, ErrNoEntity
	}

	action := route.Action
	var kind string
	for depth := 0; ; depth++ {
		if a, ok := actionOf(cur); ok {
			action = a
		}
		if k, ok := cur["type"].(string); ok && kind == "" {
			kind = k
		}
		if depth == maxUnwrap || hasID(cur) {
			break
		}
		next, ok := inner(cur, route.Keys)
		if !ok {
			break
		}
		cur = next
	}

	if len(cur) == 0 {
		return frame{}, ErrNoEntity
	}
	if !hasID(cur) {
		for _, key := range route.IDKeys {
			if v, ok := cur[key]; ok && v != nil {
				cur["id"] = v
				break
			}
		}
	}
	if route.NeedsID && !hasID(cur) {
		return frame{}, ErrMissingID
	}

	return frame{action: action, entity: cur, kind: kind}, nil
}

func inner(cur map[string]any, keys []string) (map[string]any, bool) {
	if m, ok := cur["data"].(map[string]any); ok {
		return m, true
	}
	for _, key := range keys {
		if m, ok := cur[key].(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

func actionOf(m map[string]any) (event.Action, bool) {
	s, ok := m["action"].(string)
	if !ok {
		return "", false
	}
	return event.ParseAction(s)
}

func hasID(m map[string]any) bool {
	for _, key := range []string{"id", "_id"} {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return true
			}
		case float64:
			return true
		}
	}
	return false
}
