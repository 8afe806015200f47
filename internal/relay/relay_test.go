package relay

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-audiochat/internal/domain"
)

func TestChannelNaming(t *testing.T) {
	p := NewRedisPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")
	t.Cleanup(func() { p.Close() })
	assert.Equal(t, "audiochat:room:r1", p.Channel("r1"))

	p2 := NewRedisPublisher(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "staging")
	t.Cleanup(func() { p2.Close() })
	assert.Equal(t, "staging:room:r1", p2.Channel("r1"))
}

func TestPublishSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	p := NewRedisPublisher(client, "test")
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Publish(ctx, domain.NewClipApproved("r1", "c1", 5))
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	require.NoError(t, p.Publish(context.Background(), domain.Event{}))
	require.NoError(t, p.Close())
}
