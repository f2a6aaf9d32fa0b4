package event

import "strings"

// Action says what happened to the entity.
type Action string

const (
	ActionNone                Action = ""
	ActionCreated             Action = "created"
	ActionUpdated             Action = "updated"
	ActionDeleted             Action = "deleted"
	ActionStatusChanged       Action = "status_changed"
	ActionAssigned            Action = "assigned"
	ActionStarted             Action = "started"
	ActionCompleted           Action = "completed"
	ActionReadyForPickup      Action = "ready_for_pickup"
	ActionAvailabilityToggled Action = "availability_toggled"
	ActionProcessed           Action = "processed"
	ActionFailed              Action = "failed"
	ActionRefunded            Action = "refunded"
	ActionMessage             Action = "message"
	ActionDelivered           Action = "delivered"
	ActionRead                Action = "read"
	ActionTypingStarted       Action = "typing_started"
	ActionTypingStopped       Action = "typing_stopped"
	ActionAnnounced           Action = "announced"
	ActionCancelled           Action = "cancelled"
)

// ParseAction normalizes an action string found inside a payload. Unknown values
// yield ActionNone and false so the caller keeps its default.
func ParseAction(in string) (Action, bool) {
	normalized := strings.ToLower(strings.TrimSpace(in))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "create", "new", "insert":
		normalized = string(ActionCreated)
	case "update", "edit", "patch":
		normalized = string(ActionUpdated)
	case "delete", "remove", "removed":
		normalized = string(ActionDeleted)
	case "statuschanged", "status_update", "status":
		normalized = string(ActionStatusChanged)
	case "canceled", "cancel":
		normalized = string(ActionCancelled)
	}

	action := Action(normalized)
	if action.Valid() && action != ActionNone {
		return action, true
	}
	return ActionNone, false
}

// Valid reports whether the action is one of the known constants.
func (action Action) Valid() bool {
	switch action {
	case ActionNone, ActionCreated, ActionUpdated, ActionDeleted, ActionStatusChanged,
		ActionAssigned, ActionStarted, ActionCompleted, ActionReadyForPickup,
		ActionAvailabilityToggled, ActionProcessed, ActionFailed, ActionRefunded,
		ActionMessage, ActionDelivered, ActionRead, ActionTypingStarted,
		ActionTypingStopped, ActionAnnounced, ActionCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Action.
func (action Action) String() string {
	return string(action)
}

// Removes reports whether the action takes the entity out of local state.
func (action Action) Removes() bool {
	return action == ActionDeleted
}
