// Package vote owns the authoritative vote count and approval state of audio clips.
//
// Votes are serialized per clip: each clip has its own mutex, held across the
// in-memory mutation and its persistence so the pair is atomic to other voters.
// Votes on different clips never share a lock beyond the short map lookup.
package vote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go-audiochat/internal/domain"
	"go-audiochat/internal/store"
)

// ClipStore is the slice of the durable store the aggregator needs.
type ClipStore interface {
	GetClip(ctx context.Context, id string) (*domain.AudioClip, error)
	RecordVote(ctx context.Context, v store.VoteUpdate) error
}

// Outcome describes a counted vote. Rejected votes come back as errors
// (ErrClipNotFound, ErrAlreadyVoted, ErrAlreadyApproved or a storage error).
type Outcome struct {
	ClipID   string
	RoomID   string
	Count    int
	Approved bool
	// JustApproved is true only on the vote that moved the clip to approved.
	JustApproved bool
}

type clipEntry struct {
	mu   sync.Mutex
	clip *domain.AudioClip // nil until loaded
}

type Aggregator struct {
	store ClipStore
	now   func() time.Time

	mu    sync.Mutex
	clips map[string]*clipEntry
}

func NewAggregator(s ClipStore) *Aggregator {
	return &Aggregator{
		store: s,
		now:   time.Now,
		clips: make(map[string]*clipEntry),
	}
}

func (a *Aggregator) entry(clipID string) *clipEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.clips[clipID]
	if !ok {
		e = &clipEntry{}
		a.clips[clipID] = e
	}
	return e
}

func (a *Aggregator) forget(clipID string, e *clipEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clips[clipID] == e {
		delete(a.clips, clipID)
	}
}

// load must be called with e.mu held.
func (a *Aggregator) load(ctx context.Context, clipID string, e *clipEntry) (*domain.AudioClip, error) {
	if e.clip != nil {
		return e.clip, nil
	}
	clip, err := a.store.GetClip(ctx, clipID)
	if err != nil {
		if errors.Is(err, domain.ErrClipNotFound) {
			a.forget(clipID, e)
		}
		return nil, err
	}
	if clip.VotedBy == nil {
		clip.VotedBy = make(map[string]struct{})
	}
	e.clip = clip
	return clip, nil
}

// CastVote counts userID's vote on clipID. The clip flips to approved in the
// same step that brings its count to domain.ApprovalThreshold.
func (a *Aggregator) CastVote(ctx context.Context, clipID, userID string) (Outcome, error) {
	e := a.entry(clipID)
	e.mu.Lock()
	defer e.mu.Unlock()

	clip, err := a.load(ctx, clipID, e)
	if err != nil {
		return Outcome{}, err
	}
	if clip.Approved {
		return Outcome{}, domain.ErrAlreadyApproved
	}
	if clip.HasVoted(userID) {
		return Outcome{}, domain.ErrAlreadyVoted
	}

	prev := clip.VoteCount
	clip.VotedBy[userID] = struct{}{}
	clip.VoteCount++
	justApproved := clip.VoteCount >= domain.ApprovalThreshold
	clip.Approved = justApproved

	err = a.store.RecordVote(ctx, store.VoteUpdate{
		ClipID:    clipID,
		UserID:    userID,
		PrevCount: prev,
		NewCount:  clip.VoteCount,
		Approved:  justApproved,
		VotedAt:   a.now(),
	})
	if err != nil {
		delete(clip.VotedBy, userID)
		clip.VoteCount = prev
		clip.Approved = false
		if errors.Is(err, domain.ErrAlreadyVoted) || errors.Is(err, store.ErrStaleVoteCount) {
			// the stored row disagrees with the cache; reload on next vote
			e.clip = nil
		}
		log.Warn().Err(err).Str("module", "vote").Str("clip", clipID).Str("user", userID).Msg("vote not recorded")
		return Outcome{}, err
	}

	if justApproved {
		log.Info().Str("module", "vote").Str("clip", clipID).Int("votes", clip.VoteCount).Msg("clip approved")
	}
	return Outcome{
		ClipID:       clipID,
		RoomID:       clip.RoomID,
		Count:        clip.VoteCount,
		Approved:     clip.Approved,
		JustApproved: justApproved,
	}, nil
}

// Snapshot returns a copy of the clip's current vote state.
func (a *Aggregator) Snapshot(ctx context.Context, clipID string) (*domain.AudioClip, error) {
	e := a.entry(clipID)
	e.mu.Lock()
	defer e.mu.Unlock()

	clip, err := a.load(ctx, clipID, e)
	if err != nil {
		return nil, err
	}
	return clip.Clone(), nil
}
