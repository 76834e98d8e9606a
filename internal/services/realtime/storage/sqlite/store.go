// Package sqlite provides SQLite-backed persistence for chat rooms and
// messages.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/pawmates/realtime/internal/platform/storage/sqlitemigrate"
	"github.com/pawmates/realtime/internal/services/realtime/domain"
	"github.com/pawmates/realtime/internal/services/realtime/storage"
	"github.com/pawmates/realtime/internal/services/realtime/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed room directory and message store behavior.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a chat SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// CreateRoom creates a two-participant chat room, normalizing the
// participant pair into lexical order.
func (s *Store) CreateRoom(ctx context.Context, participantA, participantB string) (storage.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RoomRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RoomRecord{}, fmt.Errorf("storage is not configured")
	}

	participantA = strings.TrimSpace(participantA)
	participantB = strings.TrimSpace(participantB)
	if participantA == "" || participantB == "" {
		return storage.RoomRecord{}, fmt.Errorf("both participant ids are required")
	}
	if participantB < participantA {
		participantA, participantB = participantB, participantA
	}

	roomID, err := domain.NewRoomID()
	if err != nil {
		return storage.RoomRecord{}, err
	}

	now := time.Now().UTC()
	record := storage.RoomRecord{
		RoomID:         roomID,
		Participant1ID: participantA,
		Participant2ID: participantB,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO chatroom (room_id, participant1_id, participant2_id, last_message, created_at, last_updated)
VALUES (?, ?, ?, '', ?, ?)`,
		record.RoomID, record.Participant1ID, record.Participant2ID, toMillis(now), toMillis(now),
	)
	if err != nil {
		return storage.RoomRecord{}, fmt.Errorf("insert chatroom: %w", err)
	}
	return record, nil
}

// GetRoom loads one chat room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (storage.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RoomRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RoomRecord{}, fmt.Errorf("storage is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return storage.RoomRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT room_id, participant1_id, participant2_id, last_message, created_at, last_updated
FROM chatroom WHERE room_id = ?`, roomID)

	var record storage.RoomRecord
	var createdAt, lastUpdated int64
	err := row.Scan(&record.RoomID, &record.Participant1ID, &record.Participant2ID, &record.LastMessage, &createdAt, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RoomRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RoomRecord{}, fmt.Errorf("scan chatroom: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.LastUpdated = fromMillis(lastUpdated)
	return record, nil
}

// ListRoomIDsByUser returns the ids of every room the user participates in,
// most recently updated first.
func (s *Store) ListRoomIDsByUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT room_id FROM chatroom
WHERE participant1_id = ? OR participant2_id = ?
ORDER BY last_updated DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query chatrooms by user: %w", err)
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("scan chatroom id: %w", err)
		}
		roomIDs = append(roomIDs, roomID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatrooms: %w", err)
	}
	return roomIDs, nil
}

// AppendMessage persists one chat message and refreshes the room's last
// message metadata in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, record storage.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.MessageID) == "" {
		return fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(record.RoomID) == "" {
		return fmt.Errorf("room id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback message write: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO chatmessage (message_id, room_id, sender_id, text, created_at)
VALUES (?, ?, ?, ?, ?)`,
		record.MessageID, record.RoomID, record.SenderID, record.Text, toMillis(record.CreatedAt),
	); err != nil {
		return rollbackWith(fmt.Errorf("insert chatmessage: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE chatroom SET last_message = ?, last_updated = ? WHERE room_id = ?`,
		record.Text, toMillis(record.CreatedAt), record.RoomID,
	); err != nil {
		return rollbackWith(fmt.Errorf("update chatroom last message: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message write: %w", err)
	}
	return nil
}

// ListMessagesByRoom returns a room's messages in insertion order.
func (s *Store) ListMessagesByRoom(ctx context.Context, roomID string) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT message_id, room_id, sender_id, text, created_at
FROM chatmessage WHERE room_id = ?
ORDER BY rowid ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query chatmessages: %w", err)
	}
	defer rows.Close()

	var records []storage.MessageRecord
	for rows.Next() {
		var record storage.MessageRecord
		var createdAt int64
		if err := rows.Scan(&record.MessageID, &record.RoomID, &record.SenderID, &record.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chatmessage: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatmessages: %w", err)
	}
	return records, nil
}
