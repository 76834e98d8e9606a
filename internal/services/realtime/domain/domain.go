// Package domain defines the wire payloads and identifier formats shared by
// the realtime delivery components.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pawmates/realtime/internal/platform/id"
)

// PollType identifies one long-poll signal channel.
type PollType string

const (
	// PollMessages signals new chat messages for a user.
	PollMessages PollType = "messages"
	// PollNotifications signals new notifications for a user.
	PollNotifications PollType = "notifications"
)

// ParsePollType validates a poll type path segment.
func ParsePollType(raw string) (PollType, bool) {
	switch PollType(strings.TrimSpace(raw)) {
	case PollMessages:
		return PollMessages, true
	case PollNotifications:
		return PollNotifications, true
	}
	return "", false
}

// Envelope is the chat message payload delivered to a recipient's socket.
type Envelope struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// NewMessageEnvelope builds the outbound frame for one persisted chat message.
func NewMessageEnvelope(roomID, messageID, senderID, body string, createdAt time.Time) Envelope {
	return Envelope{
		Type:      "message",
		RoomID:    roomID,
		MessageID: messageID,
		SenderID:  senderID,
		Message:   body,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// PollResult is the terminal state of one long-poll request.
type PollResult struct {
	Updated bool     `json:"updated"`
	Type    PollType `json:"type"`
}

// NewMessageID generates a prefixed chat message identifier.
func NewMessageID() (string, error) {
	value, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return "message_" + value, nil
}

// NewRoomID generates a prefixed chat room identifier.
func NewRoomID() (string, error) {
	value, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return "room_" + value, nil
}
