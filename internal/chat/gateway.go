package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go-audiochat/internal/domain"
	"go-audiochat/internal/relay"
)

// RoomLookup answers whether a room exists.
type RoomLookup interface {
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
}

// MessageStore appends accepted messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *domain.Message) error
}

const (
	relayQueueSize = 1024
	relayTimeout   = 2 * time.Second
)

// Gateway turns connection events into registry calls and owns the
// per-room fan-out sequence. Everything pushed to a room goes through
// Publish or OnMessageSend, which hold the room's send lock, so members
// see events in acceptance order. Leaves and disconnects take the same
// lock, so a send linearizes at its membership check under that lock.
type Gateway struct {
	registry     *Registry
	rooms        RoomLookup
	messages     MessageStore
	relay        relay.Publisher
	storeTimeout time.Duration

	now   func() time.Time
	newID func() string

	locksMu   sync.Mutex
	roomLocks map[string]*sync.Mutex

	// events are mirrored by a single worker in the order they were queued
	relayMu     sync.RWMutex
	relayClosed bool
	relayQueue  chan domain.Event
	relayDone   chan struct{}
}

func NewGateway(registry *Registry, rooms RoomLookup, messages MessageStore, pub relay.Publisher, storeTimeout time.Duration) *Gateway {
	if pub == nil {
		pub = relay.Noop{}
	}
	g := &Gateway{
		registry:     registry,
		rooms:        rooms,
		messages:     messages,
		relay:        pub,
		storeTimeout: storeTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
		roomLocks:    make(map[string]*sync.Mutex),
		relayQueue:   make(chan domain.Event, relayQueueSize),
		relayDone:    make(chan struct{}),
	}
	go g.runRelay()
	return g
}

// Close stops the mirror worker after it has drained queued events.
func (g *Gateway) Close() {
	g.relayMu.Lock()
	if g.relayClosed {
		g.relayMu.Unlock()
		return
	}
	g.relayClosed = true
	close(g.relayQueue)
	g.relayMu.Unlock()
	<-g.relayDone
}

func (g *Gateway) runRelay() {
	defer close(g.relayDone)
	for ev := range g.relayQueue {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		if err := g.relay.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("module", "chat.gateway").Str("room", ev.RoomID).Str("type", ev.Type).Msg("relay publish failed")
		}
		cancel()
	}
}

// mirror queues ev for the relay without blocking. Called under the room
// lock, so per-room queue order is acceptance order.
func (g *Gateway) mirror(ev domain.Event) {
	g.relayMu.RLock()
	defer g.relayMu.RUnlock()
	if g.relayClosed {
		return
	}
	select {
	case g.relayQueue <- ev:
	default:
		log.Warn().Str("module", "chat.gateway").Str("room", ev.RoomID).Str("type", ev.Type).Msg("relay queue full, event not mirrored")
	}
}

func (g *Gateway) roomLock(roomID string) *sync.Mutex {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()
	mu, ok := g.roomLocks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		g.roomLocks[roomID] = mu
	}
	return mu
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.storeTimeout)
}

// OnConnect binds a new connection to the authenticated user.
func (g *Gateway) OnConnect(conn ConnID, userID string, sink Sink) {
	g.registry.Attach(conn, userID, sink)
	log.Info().Str("module", "chat.gateway").Str("conn", string(conn)).Str("user", userID).Msg("connected")
}

// OnDisconnect performs the same cleanup as a leave, then releases the sink.
// Unknown connections are ignored.
func (g *Gateway) OnDisconnect(conn ConnID) {
	roomID, inRoom := g.registry.RoomOf(conn)
	var mu *sync.Mutex
	if inRoom {
		mu = g.roomLock(roomID)
		mu.Lock()
	}
	sink, ok := g.registry.Detach(conn)
	if mu != nil {
		mu.Unlock()
	}
	if !ok {
		return
	}
	if sink != nil {
		sink.Close()
	}
	log.Info().Str("module", "chat.gateway").Str("conn", string(conn)).Str("room", roomID).Msg("disconnected")
}

// OnJoinRequest moves the connection into roomID after checking the room exists.
func (g *Gateway) OnJoinRequest(ctx context.Context, conn ConnID, userID, roomID string) error {
	bound, ok := g.registry.UserOf(conn)
	if !ok {
		return domain.ErrNotConnected
	}
	if bound != userID {
		return domain.ErrIdentityMismatch
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if _, err := g.rooms.GetRoom(ctx, roomID); err != nil {
		return err
	}

	// moving out of another room is a leave of that room
	if prev, ok := g.registry.RoomOf(conn); ok && prev != roomID {
		mu := g.roomLock(prev)
		mu.Lock()
		defer mu.Unlock()
	}
	g.registry.Join(conn, userID, roomID)
	log.Info().Str("module", "chat.gateway").Str("conn", string(conn)).Str("room", roomID).Msg("join")
	return nil
}

// OnLeaveRequest leaves roomID if the connection is in it; leaving a room the
// connection is not in does nothing.
func (g *Gateway) OnLeaveRequest(conn ConnID, roomID string) {
	if roomID == "" {
		return
	}
	mu := g.roomLock(roomID)
	mu.Lock()
	current, ok := g.registry.RoomOf(conn)
	if !ok || current != roomID {
		mu.Unlock()
		return
	}
	g.registry.Leave(conn)
	mu.Unlock()
	log.Info().Str("module", "chat.gateway").Str("conn", string(conn)).Str("room", roomID).Msg("leave")
}

// OnMessageSend validates, persists and fans out a chat message.
func (g *Gateway) OnMessageSend(ctx context.Context, conn ConnID, userID, roomID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > domain.MaxMessageLen {
		return nil, domain.ErrInvalidContent
	}
	if roomID == "" || !g.registry.IsMember(conn, userID, roomID) {
		return nil, domain.ErrNotAMember
	}

	mu := g.roomLock(roomID)
	mu.Lock()
	// a leave or disconnect may have won the race for the lock
	if !g.registry.IsMember(conn, userID, roomID) {
		mu.Unlock()
		return nil, domain.ErrNotAMember
	}
	msg := &domain.Message{
		ID:        g.newID(),
		UserID:    userID,
		RoomID:    roomID,
		Content:   content,
		Timestamp: g.now().UTC().Truncate(time.Microsecond),
	}
	sctx, cancel := g.withTimeout(ctx)
	err := g.messages.AppendMessage(sctx, msg)
	cancel()
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	dropped := g.fanOutLocked(domain.NewMessageCreated(msg))
	mu.Unlock()

	g.evict(roomID, dropped)
	return msg, nil
}

// Publish fans ev out to the members of ev.RoomID in send order.
func (g *Gateway) Publish(ev domain.Event) {
	mu := g.roomLock(ev.RoomID)
	mu.Lock()
	dropped := g.fanOutLocked(ev)
	mu.Unlock()

	g.evict(ev.RoomID, dropped)
}

// fanOutLocked must be called with the room's send lock held.
func (g *Gateway) fanOutLocked(ev domain.Event) []ConnID {
	payload, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "chat.gateway").Str("type", ev.Type).Msg("encode event")
		return nil
	}
	dropped := g.registry.Broadcast(ev.RoomID, payload).Dropped
	g.mirror(ev)
	return dropped
}

// evict disconnects slow consumers once the room lock is released.
func (g *Gateway) evict(roomID string, dropped []ConnID) {
	for _, conn := range dropped {
		log.Warn().Str("module", "chat.gateway").Str("conn", string(conn)).Str("room", roomID).Msg("send buffer full, disconnecting")
		g.OnDisconnect(conn)
	}
}
