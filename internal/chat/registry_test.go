package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps every frame it accepts. With limit > 0 it refuses
// frames once it holds that many.
type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	limit  int
	closed bool
}

func (s *recordingSink) TrySend(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	if s.limit > 0 && len(s.frames) >= s.limit {
		return ErrBackpressure
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type pushed struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

func (s *recordingSink) events(t *testing.T) []pushed {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pushed, 0, len(s.frames))
	for _, f := range s.frames {
		var p pushed
		require.NoError(t, json.Unmarshal(f, &p))
		out = append(out, p)
	}
	return out
}

func TestRegistryMembershipIsExclusive(t *testing.T) {
	r := NewRegistry()
	r.Attach("c1", "u1", &recordingSink{})

	r.Join("c1", "u1", "a")
	r.Join("c1", "u1", "b")

	assert.Empty(t, r.MembersOf("a"))
	assert.Equal(t, []Member{{ConnID: "c1", UserID: "u1"}}, r.MembersOf("b"))
	room, ok := r.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, "b", room)
	assert.False(t, r.IsMember("c1", "u1", "a"))
	assert.True(t, r.IsMember("c1", "u1", "b"))
	assert.False(t, r.IsMember("c1", "someone-else", "b"))
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Attach("c1", "u1", &recordingSink{})
	r.Join("c1", "u1", "a")
	r.Join("c1", "u1", "a")

	assert.Len(t, r.MembersOf("a"), 1)
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	r.Attach("c1", "u1", &recordingSink{})

	_, ok := r.Leave("c1")
	assert.False(t, ok, "leaving with no room")
	_, ok = r.Leave("missing")
	assert.False(t, ok)

	r.Join("c1", "u1", "a")
	room, ok := r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, "a", room)
	assert.Empty(t, r.MembersOf("a"))

	// still attached
	user, ok := r.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", user)
}

func TestRegistryBroadcastIsScopedToRoom(t *testing.T) {
	r := NewRegistry()
	a1, a2, b1 := &recordingSink{}, &recordingSink{}, &recordingSink{}
	r.Attach("a1", "u1", a1)
	r.Attach("a2", "u2", a2)
	r.Attach("b1", "u3", b1)
	r.Join("a1", "u1", "a")
	r.Join("a2", "u2", "a")
	r.Join("b1", "u3", "b")

	res := r.Broadcast("a", []byte(`{"type":"x"}`))
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Dropped)
	assert.Len(t, a1.frames, 1)
	assert.Len(t, a2.frames, 1)
	assert.Empty(t, b1.frames)

	res = r.Broadcast("nobody-here", []byte(`{}`))
	assert.Zero(t, res.Delivered)
}

func TestRegistryBroadcastReportsRefusingSinks(t *testing.T) {
	r := NewRegistry()
	full := &recordingSink{limit: 1}
	ok := &recordingSink{}
	r.Attach("full", "u1", full)
	r.Attach("ok", "u2", ok)
	r.Join("full", "u1", "a")
	r.Join("ok", "u2", "a")

	r.Broadcast("a", []byte(`{}`))
	res := r.Broadcast("a", []byte(`{}`))

	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []ConnID{"full"}, res.Dropped)
}

func TestRegistryDetach(t *testing.T) {
	r := NewRegistry()
	sink := &recordingSink{}
	r.Attach("c1", "u1", sink)
	r.Join("c1", "u1", "a")

	got, ok := r.Detach("c1")
	require.True(t, ok)
	assert.Same(t, sink, got)
	assert.Empty(t, r.MembersOf("a"))

	_, ok = r.Detach("c1")
	assert.False(t, ok)
	_, ok = r.UserOf("c1")
	assert.False(t, ok)
}

func TestRegistryNoRoomIsNotMembership(t *testing.T) {
	r := NewRegistry()
	r.Attach("c1", "u1", &recordingSink{})

	assert.False(t, r.IsMember("c1", "u1", ""))
	r.Join("c1", "u1", "a")
	r.Leave("c1")
	assert.False(t, r.IsMember("c1", "u1", ""))
}
