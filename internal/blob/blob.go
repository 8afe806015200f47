// Package blob stores uploaded clip bytes and hands back a public URL for them.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// Store is satisfied by every backend.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

type Config struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	PublicURL string `mapstructure:"public_url"`
	S3Bucket  string `mapstructure:"s3_bucket"`
	S3Region  string `mapstructure:"s3_region"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// New builds the configured backend. The disk backend writes to the OS filesystem.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendDisk:
		return NewDisk(afero.NewOsFs(), cfg.Dir, cfg.PublicURL)
	case BackendS3:
		return NewS3(ctx, cfg.S3Bucket, cfg.S3Region, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// newKey names a new object after a fresh uuid plus the extension of its type.
func newKey(contentType string) string {
	key := uuid.NewString()
	if m := mimetype.Lookup(contentType); m != nil {
		key += m.Extension()
	}
	return key
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
