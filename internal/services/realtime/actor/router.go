package actor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/pawmates/realtime/internal/services/realtime/domain"
	"github.com/pawmates/realtime/internal/services/realtime/storage"
)

type clientFrame struct {
	Action  string `json:"action"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type infoFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type infoTypeFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type subscribedFrame struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

type sendAckFrame struct {
	Type              string `json:"type"`
	Message           string `json:"message"`
	RecipientNotified bool   `json:"recipientNotified"`
}

// HandleFrame routes one inbound socket frame. Protocol errors are reported
// to the client as error frames; the session stays open.
func (a *Actor) HandleFrame(ctx context.Context, raw []byte) {
	a.mu.Lock()
	a.lastActivity = a.opts.Clock.Now()
	a.mu.Unlock()

	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("realtime: malformed frame from user=%q: %v", a.userID, err)
		a.safeSend(errorFrame{Type: "error", Message: "Invalid frame payload."})
		return
	}

	switch frame.Action {
	case "ping":
		a.safeSend(infoFrame{Type: "info", Message: "pong"})
	case "send_message":
		a.handleSendMessage(ctx, frame)
	default:
		a.safeSend(errorFrame{Type: "error", Message: "Unknown action."})
	}
}

func (a *Actor) handleSendMessage(ctx context.Context, frame clientFrame) {
	roomID := strings.TrimSpace(frame.RoomID)

	var room storage.RoomRecord
	err := a.retry(ctx, func(ctx context.Context) error {
		var lookupErr error
		room, lookupErr = a.rooms.GetRoom(ctx, roomID)
		return lookupErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.safeSend(errorFrame{Type: "error", Message: "Chat room not found or unauthorized."})
			return
		}
		log.Printf("realtime: room lookup failed for user=%q room=%q: %v", a.userID, roomID, err)
		a.safeSend(errorFrame{Type: "error", Message: "Chat room lookup failed."})
		return
	}

	recipientID, ok := room.OtherParticipant(a.userID)
	if !ok {
		a.safeSend(errorFrame{Type: "error", Message: "Chat room not found or unauthorized."})
		return
	}

	// The id is generated once per request, so a retried insert whose first
	// attempt actually landed conflicts on the primary key instead of
	// writing a duplicate record.
	messageID, err := domain.NewMessageID()
	if err != nil {
		log.Printf("realtime: message id generation failed for user=%q: %v", a.userID, err)
		a.safeSend(errorFrame{Type: "error", Message: "Failed to send message."})
		return
	}

	record := storage.MessageRecord{
		MessageID: messageID,
		RoomID:    room.RoomID,
		SenderID:  a.userID,
		Text:      frame.Message,
		CreatedAt: a.opts.Clock.Now().UTC(),
	}
	if err := a.retry(ctx, func(ctx context.Context) error {
		return a.store.AppendMessage(ctx, record)
	}); err != nil {
		log.Printf("realtime: message persistence failed for user=%q room=%q: %v", a.userID, room.RoomID, err)
		a.safeSend(errorFrame{Type: "error", Message: "Failed to persist message."})
		return
	}

	envelope := domain.NewMessageEnvelope(room.RoomID, messageID, a.userID, frame.Message, record.CreatedAt)
	delivered := a.forwarder.Forward(ctx, recipientID, envelope)

	a.safeSend(sendAckFrame{
		Type:              "info",
		Message:           "Message sent.",
		RecipientNotified: delivered,
	})
}
