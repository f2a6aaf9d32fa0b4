package jwt

import (
	"encoding/json"
	"errors"
	"strings"

	"canteen-sync/internal/domain/user"
)

var (
	ErrBadAuthMsg   = errors.New("invalid auth message")
	ErrBadTokenWrap = errors.New("token must be 'Bearer <token>'")
)

// AuthFrame is the first frame a client sends over the socket:
// {"type":"auth","token":"Bearer <jwt>","user_id":"42","role":"driver"}
type AuthFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

// NewAuthFrame builds the auth frame for the identity.
func NewAuthFrame(identity user.Identity) AuthFrame {
	return AuthFrame{
		Type:   "auth",
		Token:  "Bearer " + identity.Token,
		UserID: identity.UserID,
		Role:   identity.Role.String(),
	}
}

type Result struct {
	Claims *Claims
	Raw    string
}

// ValidateWSAuth parses the auth frame, validates the JWT and enforces the roles.
func ValidateWSAuth(frame []byte, mgr *Manager, allowedRoles ...user.Role) (*Result, error) {
	var msg AuthFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, ErrBadAuthMsg
	}
	if strings.ToLower(strings.TrimSpace(msg.Type)) != "auth" {
		return nil, ErrBadAuthMsg
	}

	parts := strings.SplitN(msg.Token, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, ErrBadTokenWrap
	}

	raw := strings.TrimSpace(parts[1])
	_, claims, err := mgr.ParseAndValidate(raw)
	if err != nil {
		return nil, err
	}
	if err := RoleAllowed(claims, allowedRoles...); err != nil {
		return nil, err
	}

	return &Result{Claims: claims, Raw: raw}, nil
}
