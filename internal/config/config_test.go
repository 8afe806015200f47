package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileWithOverrides(t *testing.T) {
	path := writeConfig(t, `
mode: release
addr: ":9090"
database:
  driver: postgres
  dsn: postgres://chat@localhost/chat
auth:
  jwt_secret: from-file
  token_ttl: 2h
blob:
  backend: s3
  s3_bucket: clips
ws:
  ping_period: 30s
`)
	t.Setenv("AUDIOCHAT_AUTH_JWT_SECRET", "from-env")
	t.Setenv("AUDIOCHAT_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "audiochat", cfg.Redis.ChannelPrefix)
	assert.Equal(t, "s3", cfg.Blob.Backend)
	assert.Equal(t, "clips", cfg.Blob.S3Bucket)
	assert.Equal(t, 30*time.Second, cfg.WS.PingPeriod)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Store)
	assert.EqualValues(t, 10<<20, cfg.Blob.MaxBytes)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("AUDIOCHAT_MODE", ModeDebug)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, devSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 256, cfg.WS.SendBuffer)
}

func TestSecretRequiredOutsideDebug(t *testing.T) {
	path := writeConfig(t, "mode: release\n")
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestUnknownDriverRejected(t *testing.T) {
	path := writeConfig(t, "mode: debug\ndatabase:\n  driver: oracle\n")
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "oracle")
}
