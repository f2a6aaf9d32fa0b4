package app

import (
	"errors"
	"strings"

	"canteen-sync/internal/general/contracts"
)

var ErrEmptyMessage = errors.New("message is empty")

// Chat frames are sent only while connected; nothing is queued.

func (s *Session) SendMessage(chatID, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return s.conn.Send(contracts.FrameSendMessage, contracts.ChatMessagePayload{ChatID: chatID, Message: message})
}

func (s *Session) StartTyping(chatID string) error {
	return s.conn.Send(contracts.FrameStartTyping, contracts.TypingPayload{ChatID: chatID})
}

func (s *Session) StopTyping(chatID string) error {
	return s.conn.Send(contracts.FrameStopTyping, contracts.TypingPayload{ChatID: chatID})
}

func (s *Session) MarkAsRead(chatID string, messageIDs ...string) error {
	return s.conn.Send(contracts.FrameMarkAsRead, contracts.MarkAsReadPayload{ChatID: chatID, MessageIDs: messageIDs})
}
