package contracts

import (
	"encoding/json"
	"time"
)

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame. A nil payload leaves data out.
func NewFrame(frameType string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: frameType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}

// Handshake frames (server -> client).
const (
	FrameAuth        = "auth"
	FrameAuthSuccess = "auth_success"
	FrameAuthError   = "auth_error"
)

// Control frames (client -> server).
const (
	FrameJoinUserRoom       = "join-user-room"
	FrameJoinAdminRoom      = "join-admin-room"
	FrameJoinDriverRoom     = "join-driver-room"
	FrameLeaveDriverRoom    = "leave-driver-room"
	FrameJoinDriverSpecific = "join-driver-specific"
	FrameJoinOrderRoom      = "join-order-room"
	FrameLeaveOrderRoom     = "leave-order-room"
	FrameJoinChatRoom       = "join-chat-room"
	FrameLeaveChatRoom      = "leave-chat-room"

	FrameSendMessage          = "sendMessage"
	FrameStartTyping          = "startTyping"
	FrameStopTyping           = "stopTyping"
	FrameMarkAsRead           = "markAsRead"
	FrameUpdateDriverLocation = "updateDriverLocation"
	FrameUpdateDriverStatus   = "updateDriverStatus"
)

// AuthResult is the payload of auth_success and auth_error.
type AuthResult struct {
	UserID  string `json:"user_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

// RoomPayload carries the id of the room being joined or left. Only one field is
// set per frame.
type RoomPayload struct {
	UserID   string `json:"userId,omitempty"`
	DriverID string `json:"driverId,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
}

type ChatMessagePayload struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

type MarkAsReadPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// DriverLocationPayload is sent by updateDriverLocation and PUT /drivers/{id}/location.
type DriverLocationPayload struct {
	DriverID  string    `json:"driverId,omitempty"`
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64   `json:"accuracy,omitempty" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
}

type DriverStatusPayload struct {
	DriverID string `json:"driverId,omitempty"`
	Status   string `json:"status" validate:"oneof=available busy offline"`
}
