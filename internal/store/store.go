// Package store is the durable record of rooms, messages and audio clips.
// It has no business rules beyond the unique keys the schema enforces.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-audiochat/internal/db"
	"go-audiochat/internal/domain"
)

// ErrStaleVoteCount means the stored count moved under a vote update.
var ErrStaleVoteCount = errors.New("stored vote count changed concurrently")

type Store struct {
	db *db.Database
}

func New(database *db.Database) *Store {
	return &Store{db: database}
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

// ---------------------------------------------
// Rooms
// ---------------------------------------------

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	query := "INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)"
	_, err := s.db.Conn.ExecContext(ctx, s.q(query), room.ID, room.Name, toMicros(room.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrDuplicateRoomName
		}
		return domain.StorageError("create room", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	room := &domain.Room{}
	var created int64
	query := "SELECT id, name, created_at FROM rooms WHERE id = ?"
	err := s.db.Conn.QueryRowContext(ctx, s.q(query), id).Scan(&room.ID, &room.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, domain.StorageError("get room", err)
	}
	room.CreatedAt = fromMicros(created)
	return room, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	query := "SELECT id, name, created_at FROM rooms ORDER BY created_at ASC, name ASC"
	rows, err := s.db.Conn.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.StorageError("list rooms", err)
	}
	defer rows.Close()

	rooms := make([]domain.Room, 0)
	for rows.Next() {
		var (
			room    domain.Room
			created int64
		)
		if err := rows.Scan(&room.ID, &room.Name, &created); err != nil {
			return nil, domain.StorageError("list rooms", err)
		}
		room.CreatedAt = fromMicros(created)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list rooms", err)
	}
	return rooms, nil
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

// AppendMessage persists msg and fills in its server sequence number.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `INSERT INTO messages (id, room_id, user_id, content, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING seq`
	err := s.db.Conn.QueryRowContext(ctx, s.q(query),
		msg.ID, msg.RoomID, msg.UserID, msg.Content, toMicros(msg.Timestamp),
	).Scan(&msg.Seq)
	if err != nil {
		return domain.StorageError("append message", err)
	}
	return nil
}

// ListMessages returns the room's messages in acceptance order.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	query := `
		SELECT seq, id, room_id, user_id, content, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY seq ASC
	`
	rows, err := s.db.Conn.QueryContext(ctx, s.q(query), roomID)
	if err != nil {
		return nil, domain.StorageError("list messages", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg     domain.Message
			created int64
		)
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.RoomID, &msg.UserID, &msg.Content, &created); err != nil {
			return nil, domain.StorageError("list messages", err)
		}
		msg.Timestamp = fromMicros(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list messages", err)
	}
	return messages, nil
}
