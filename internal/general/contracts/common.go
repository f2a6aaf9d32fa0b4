package contracts

import "time"

// Envelope adds cross-cutting headers all relayed messages carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	SentAt        time.Time `json:"sent_at,omitempty"`
}

// RelayedEvent is a canonical event as forwarded to the broker.
type RelayedEvent struct {
	Type       string         `json:"type"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entity_id,omitempty"`
	Entity     map[string]any `json:"entity,omitempty"`
	Wire       string         `json:"wire,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Envelope
}
