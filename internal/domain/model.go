// Package domain holds the entities shared by the store, the vote aggregator and the chat core.
package domain

import "time"

// ApprovalThreshold is the vote count at which a clip becomes approved and frozen.
const ApprovalThreshold = 5

const (
	MaxRoomNameLen = 100
	MaxMessageLen  = 2000
)

type User struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"username"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is immutable once accepted. Seq is the server-assigned acceptance order.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type AudioClip struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	RoomID      string              `json:"room_id"`
	URL         string              `json:"url"`
	ContentType string              `json:"content_type"`
	VoteCount   int                 `json:"vote_count"`
	Approved    bool                `json:"approved"`
	VotedBy     map[string]struct{} `json:"-"`
	CreatedAt   time.Time           `json:"created_at"`
}

// HasVoted reports whether userID already voted on the clip.
func (c *AudioClip) HasVoted(userID string) bool {
	_, ok := c.VotedBy[userID]
	return ok
}

// Clone returns a deep copy, so callers can't mutate the voter set of a cached clip.
func (c *AudioClip) Clone() *AudioClip {
	out := *c
	out.VotedBy = make(map[string]struct{}, len(c.VotedBy))
	for u := range c.VotedBy {
		out.VotedBy[u] = struct{}{}
	}
	return &out
}
