// Package storage defines the persistence boundary of the realtime service:
// the room directory consulted for membership and the durable message store.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested room or message record is missing.
var ErrNotFound = errors.New("record not found")

// RoomRecord stores one two-participant chat room.
//
// Participants are kept in lexical order so a pair of user ids always maps
// to the same row regardless of which side opened the room.
type RoomRecord struct {
	RoomID         string
	Participant1ID string
	Participant2ID string
	LastMessage    string
	CreatedAt      time.Time
	LastUpdated    time.Time
}

// OtherParticipant returns the room member that is not userID, and whether
// userID belongs to the room at all.
func (r RoomRecord) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case r.Participant1ID:
		return r.Participant2ID, true
	case r.Participant2ID:
		return r.Participant1ID, true
	}
	return "", false
}

// MessageRecord stores one persisted chat message.
type MessageRecord struct {
	MessageID string
	RoomID    string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// RoomDirectory looks up chat room membership.
type RoomDirectory interface {
	GetRoom(ctx context.Context, roomID string) (RoomRecord, error)
	ListRoomIDsByUser(ctx context.Context, userID string) ([]string, error)
}

// MessageStore persists chat messages in insertion order.
type MessageStore interface {
	AppendMessage(ctx context.Context, record MessageRecord) error
	ListMessagesByRoom(ctx context.Context, roomID string) ([]MessageRecord, error)
}
