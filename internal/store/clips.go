package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-audiochat/internal/db"
	"go-audiochat/internal/domain"
)

func (s *Store) CreateClip(ctx context.Context, clip *domain.AudioClip) error {
	query := `INSERT INTO audio_clips (id, room_id, user_id, url, content_type, vote_count, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Conn.ExecContext(ctx, s.q(query),
		clip.ID, clip.RoomID, clip.UserID, clip.URL, clip.ContentType,
		clip.VoteCount, clip.Approved, toMicros(clip.CreatedAt),
	)
	if err != nil {
		return domain.StorageError("create clip", err)
	}
	return nil
}

// GetClip loads a clip together with the set of users who voted on it.
func (s *Store) GetClip(ctx context.Context, id string) (*domain.AudioClip, error) {
	clip := &domain.AudioClip{}
	var created int64
	query := `SELECT id, room_id, user_id, url, content_type, vote_count, approved, created_at
		FROM audio_clips WHERE id = ?`
	err := s.db.Conn.QueryRowContext(ctx, s.q(query), id).Scan(
		&clip.ID, &clip.RoomID, &clip.UserID, &clip.URL, &clip.ContentType,
		&clip.VoteCount, &clip.Approved, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrClipNotFound
		}
		return nil, domain.StorageError("get clip", err)
	}
	clip.CreatedAt = fromMicros(created)

	rows, err := s.db.Conn.QueryContext(ctx, s.q("SELECT user_id FROM clip_votes WHERE clip_id = ?"), id)
	if err != nil {
		return nil, domain.StorageError("get clip voters", err)
	}
	defer rows.Close()

	clip.VotedBy = make(map[string]struct{})
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, domain.StorageError("get clip voters", err)
		}
		clip.VotedBy[userID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("get clip voters", err)
	}
	return clip, nil
}

// ListClips returns the room's clips oldest first. VotedBy is not populated.
func (s *Store) ListClips(ctx context.Context, roomID string) ([]domain.AudioClip, error) {
	query := `SELECT id, room_id, user_id, url, content_type, vote_count, approved, created_at
		FROM audio_clips WHERE room_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.Conn.QueryContext(ctx, s.q(query), roomID)
	if err != nil {
		return nil, domain.StorageError("list clips", err)
	}
	defer rows.Close()

	clips := make([]domain.AudioClip, 0)
	for rows.Next() {
		var (
			clip    domain.AudioClip
			created int64
		)
		if err := rows.Scan(&clip.ID, &clip.RoomID, &clip.UserID, &clip.URL, &clip.ContentType,
			&clip.VoteCount, &clip.Approved, &created); err != nil {
			return nil, domain.StorageError("list clips", err)
		}
		clip.CreatedAt = fromMicros(created)
		clips = append(clips, clip)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list clips", err)
	}
	return clips, nil
}

// VoteUpdate is one counted vote: the voter row plus the new count/approval.
type VoteUpdate struct {
	ClipID    string
	UserID    string
	PrevCount int
	NewCount  int
	Approved  bool
	VotedAt   time.Time
}

// RecordVote inserts the voter row and compare-and-sets the clip counters in one
// transaction. The update only applies while the stored count still equals
// PrevCount and the clip is not yet approved.
func (s *Store) RecordVote(ctx context.Context, v VoteUpdate) error {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("record vote", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q("INSERT INTO clip_votes (clip_id, user_id, voted_at) VALUES (?, ?, ?)"),
		v.ClipID, v.UserID, toMicros(v.VotedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrAlreadyVoted
		}
		return domain.StorageError("record vote", err)
	}

	res, err := tx.ExecContext(ctx,
		s.q("UPDATE audio_clips SET vote_count = ?, approved = ? WHERE id = ? AND vote_count = ? AND approved = ?"),
		v.NewCount, v.Approved, v.ClipID, v.PrevCount, false)
	if err != nil {
		return domain.StorageError("record vote", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError("record vote", err)
	}
	if n != 1 {
		return domain.StorageError("record vote", ErrStaleVoteCount)
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("record vote", err)
	}
	return nil
}
