package chat

import (
	"context"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go-audiochat/internal/domain"
	"go-audiochat/internal/relay"
	"go-audiochat/internal/vote"
)

// Store is the durable store as seen by the coordinator.
type Store interface {
	RoomLookup
	MessageStore
	CreateRoom(ctx context.Context, room *domain.Room) error
	ListRooms(ctx context.Context) ([]domain.Room, error)
	ListMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	CreateClip(ctx context.Context, clip *domain.AudioClip) error
	ListClips(ctx context.Context, roomID string) ([]domain.AudioClip, error)
}

// BlobStore keeps uploaded bytes and returns a stable public URL for them.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// Voter is the vote aggregator.
type Voter interface {
	CastVote(ctx context.Context, clipID, userID string) (vote.Outcome, error)
	Snapshot(ctx context.Context, clipID string) (*domain.AudioClip, error)
}

type Options struct {
	StoreTimeout time.Duration
	BlobTimeout  time.Duration
	MaxClipBytes int64
}

// Coordinator ties the registry, gateway, vote aggregator, durable store and
// blob store into the room operations exposed to transports.
type Coordinator struct {
	store    Store
	blobs    BlobStore
	votes    Voter
	registry *Registry
	gateway  *Gateway
	opts     Options

	now   func() time.Time
	newID func() string
}

func NewCoordinator(st Store, blobs BlobStore, votes Voter, pub relay.Publisher, opts Options) *Coordinator {
	registry := NewRegistry()
	return &Coordinator{
		store:    st,
		blobs:    blobs,
		votes:    votes,
		registry: registry,
		gateway:  NewGateway(registry, st, st, pub, opts.StoreTimeout),
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (c *Coordinator) Registry() *Registry { return c.registry }

// Close stops background work. Live connections are not touched.
func (c *Coordinator) Close() { c.gateway.Close() }

func (c *Coordinator) Gateway() *Gateway { return c.gateway }

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}

func (c *Coordinator) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// ---------------------------------------------
// Rooms
// ---------------------------------------------

func (c *Coordinator) CreateRoom(ctx context.Context, name string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > domain.MaxRoomNameLen {
		return nil, domain.ErrInvalidRoomName
	}
	room := &domain.Room{ID: c.newID(), Name: name, CreatedAt: c.timestamp()}

	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "chat.coordinator").Str("room", room.ID).Str("name", room.Name).Msg("room created")
	return room, nil
}

func (c *Coordinator) ListRooms(ctx context.Context) ([]domain.Room, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.store.ListRooms(ctx)
}

func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.store.GetRoom(ctx, roomID)
}

// ListMembers is the live presence of a room.
func (c *Coordinator) ListMembers(roomID string) []Member {
	return c.registry.MembersOf(roomID)
}

// ---------------------------------------------
// Connections and messages
// ---------------------------------------------

func (c *Coordinator) Connect(conn ConnID, userID string, sink Sink) {
	c.gateway.OnConnect(conn, userID, sink)
}

func (c *Coordinator) Disconnect(conn ConnID) {
	c.gateway.OnDisconnect(conn)
}

func (c *Coordinator) JoinRoom(ctx context.Context, conn ConnID, userID, roomID string) error {
	return c.gateway.OnJoinRequest(ctx, conn, userID, roomID)
}

func (c *Coordinator) LeaveRoom(conn ConnID, roomID string) {
	c.gateway.OnLeaveRequest(conn, roomID)
}

func (c *Coordinator) SendMessage(ctx context.Context, conn ConnID, userID, roomID, content string) (*domain.Message, error) {
	return c.gateway.OnMessageSend(ctx, conn, userID, roomID, content)
}

// ListMessages returns the room history in acceptance order.
func (c *Coordinator) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, roomID)
}

// ---------------------------------------------
// Clips
// ---------------------------------------------

// UploadClip stores the audio bytes first and only then records the clip, so
// a failed upload leaves no metadata behind.
func (c *Coordinator) UploadClip(ctx context.Context, userID, roomID string, data []byte, contentType string) (*domain.AudioClip, error) {
	if len(data) == 0 || (c.opts.MaxClipBytes > 0 && int64(len(data)) > c.opts.MaxClipBytes) {
		return nil, domain.ErrInvalidClip
	}
	ct, ok := audioContentType(data, contentType)
	if !ok {
		return nil, domain.ErrInvalidClip
	}

	sctx, cancel := c.storeCtx(ctx)
	_, err := c.store.GetRoom(sctx, roomID)
	cancel()
	if err != nil {
		return nil, err
	}

	bctx, cancel := context.WithTimeout(ctx, c.blobTimeout())
	url, err := c.blobs.Put(bctx, data, ct)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("module", "chat.coordinator").Str("room", roomID).Msg("blob upload failed")
		return nil, domain.StorageError("store clip bytes", err)
	}

	clip := &domain.AudioClip{
		ID:          c.newID(),
		UserID:      userID,
		RoomID:      roomID,
		URL:         url,
		ContentType: ct,
		VotedBy:     make(map[string]struct{}),
		CreatedAt:   c.timestamp(),
	}
	sctx, cancel = c.storeCtx(ctx)
	defer cancel()
	if err := c.store.CreateClip(sctx, clip); err != nil {
		return nil, err
	}
	log.Info().Str("module", "chat.coordinator").Str("room", roomID).Str("clip", clip.ID).Str("type", ct).Int("bytes", len(data)).Msg("clip uploaded")
	return clip, nil
}

func (c *Coordinator) blobTimeout() time.Duration {
	if c.opts.BlobTimeout <= 0 {
		return 30 * time.Second
	}
	return c.opts.BlobTimeout
}

// containers that carry audio but sniff as a generic or video type
var audioContainers = map[string]bool{
	"video/webm":      true,
	"application/ogg": true,
	"video/mp4":       true,
}

// audioContentType sniffs data and returns the type to record for it.
func audioContentType(data []byte, declared string) (string, bool) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return detected.String(), true
		}
	}
	declaredType, _, err := mime.ParseMediaType(declared)
	if err != nil || !strings.HasPrefix(declaredType, "audio/") {
		return "", false
	}
	for m := detected; m != nil; m = m.Parent() {
		if audioContainers[m.String()] {
			return declaredType, true
		}
	}
	return "", false
}

func (c *Coordinator) ListClips(ctx context.Context, roomID string) ([]domain.AudioClip, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return c.store.ListClips(ctx, roomID)
}

func (c *Coordinator) GetClip(ctx context.Context, clipID string) (*domain.AudioClip, error) {
	ctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.votes.Snapshot(ctx, clipID)
}

// VoteClip counts a vote and, on the vote that approves the clip, pushes
// clip.approved to the clip's room.
func (c *Coordinator) VoteClip(ctx context.Context, userID, clipID string) (vote.Outcome, error) {
	vctx, cancel := c.storeCtx(ctx)
	out, err := c.votes.CastVote(vctx, clipID, userID)
	cancel()
	if err != nil {
		return vote.Outcome{}, err
	}
	if out.JustApproved {
		c.gateway.Publish(domain.NewClipApproved(out.RoomID, out.ClipID, out.Count))
	}
	return out, nil
}
