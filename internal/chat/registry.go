package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBackpressure is returned by a Sink whose outbound buffer is full.
var ErrBackpressure = errors.New("backpressure")

// ConnID is the opaque identifier of one live transport connection.
type ConnID string

// Sink is the send capability of a connection. TrySend must not block.
type Sink interface {
	TrySend(frame []byte) error
	Close()
}

// Member is a read-only view of one membership.
type Member struct {
	ConnID ConnID `json:"connection_id"`
	UserID string `json:"user_id"`
}

// BroadcastResult reports delivery stats for one fan-out.
type BroadcastResult struct {
	Delivered int
	Dropped   []ConnID
}

type connEntry struct {
	userID string
	roomID string // "" while the connection is in no room
	sink   Sink
}

// Registry is the single source of truth for who is live in which room.
// A connection is a member of at most one room at a time.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connEntry
	rooms map[string]map[ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connEntry),
		rooms: make(map[string]map[ConnID]struct{}),
	}
}

// Attach records a live connection and its sink. It does not join any room.
func (r *Registry) Attach(conn ConnID, userID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[conn]; ok {
		e.userID = userID
		e.sink = sink
		return
	}
	r.conns[conn] = &connEntry{userID: userID, sink: sink}
}

// Detach removes the connection and its membership. The sink is returned so
// the caller can close it.
func (r *Registry) Detach(conn ConnID) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return nil, false
	}
	r.removeFromRoomLocked(conn, e)
	delete(r.conns, conn)
	return e.sink, true
}

// UserOf returns the identity bound to a connection.
func (r *Registry) UserOf(conn ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// Join moves conn into roomID, leaving any previous room. Joining the room the
// connection is already in is a no-op.
func (r *Registry) Join(conn ConnID, userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		e = &connEntry{}
		r.conns[conn] = e
	}
	e.userID = userID
	if e.roomID == roomID {
		return
	}
	r.removeFromRoomLocked(conn, e)

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[ConnID]struct{})
		r.rooms[roomID] = members
	}
	members[conn] = struct{}{}
	e.roomID = roomID
	log.Debug().Str("module", "chat.registry").Str("conn", string(conn)).Str("room", roomID).Msg("joined")
}

// Leave drops conn's membership, if any, and reports the room it left.
func (r *Registry) Leave(conn ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok || e.roomID == "" {
		return "", false
	}
	roomID := e.roomID
	r.removeFromRoomLocked(conn, e)
	return roomID, true
}

func (r *Registry) removeFromRoomLocked(conn ConnID, e *connEntry) {
	if e.roomID == "" {
		return
	}
	if members, ok := r.rooms[e.roomID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, e.roomID)
		}
	}
	log.Debug().Str("module", "chat.registry").Str("conn", string(conn)).Str("room", e.roomID).Msg("left")
	e.roomID = ""
}

// RoomOf returns the room conn is currently in.
func (r *Registry) RoomOf(conn ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok || e.roomID == "" {
		return "", false
	}
	return e.roomID, true
}

// IsMember reports whether the (conn, user) pair is currently in roomID.
func (r *Registry) IsMember(conn ConnID, userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if roomID == "" {
		return false
	}
	e, ok := r.conns[conn]
	return ok && e.roomID == roomID && e.userID == userID
}

// MembersOf is a snapshot of the room's members, ordered by connection id.
func (r *Registry) MembersOf(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]Member, 0, len(members))
	for conn := range members {
		out = append(out, Member{ConnID: conn, UserID: r.conns[conn].userID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// Broadcast hands payload to every connection in roomID at the moment of the
// call. Membership can't change while delivery runs, so late joiners and
// early leavers never see the payload. Connections whose sink refuses the
// payload are reported in Dropped; the caller decides what to do with them.
func (r *Registry) Broadcast(roomID string, payload []byte) BroadcastResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := BroadcastResult{}
	for conn := range r.rooms[roomID] {
		e := r.conns[conn]
		if e.sink == nil {
			continue
		}
		if err := e.sink.TrySend(payload); err != nil {
			res.Dropped = append(res.Dropped, conn)
			continue
		}
		res.Delivered++
	}
	log.Debug().Str("module", "chat.registry").Str("room", roomID).Int("sent_to", res.Delivered).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
