package user

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-audiochat/internal/db"
	"go-audiochat/internal/domain"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate())

	s := NewService(NewRepository(database), secret, time.Hour)
	s.bcryptCost = bcrypt.MinCost
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, "secret")

	reg, err := s.Register(ctx, &RegisterRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.ID)
	assert.Equal(t, "alice", reg.Username)

	_, err = s.Register(ctx, &RegisterRequest{Username: "alice", Password: "another one"})
	require.ErrorIs(t, err, domain.ErrDuplicateUsername)

	res, err := s.Login(ctx, &LoginRequest{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, reg.ID, res.ID)

	id, name, err := s.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, id)
	assert.Equal(t, "alice", name)

	_, err = s.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, &LoginRequest{Username: "bob", Password: "whatever1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, "secret")

	tests := []RegisterRequest{
		{Username: "", Password: "long enough"},
		{Username: "ab", Password: "long enough"},
		{Username: "has space", Password: "long enough"},
		{Username: "carol", Password: "short"},
	}
	for _, req := range tests {
		_, err := s.Register(ctx, &req)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", req)
	}
}

func TestTokenFromAnotherSecretIsRejected(t *testing.T) {
	ctx := context.Background()
	issuer := newTestService(t, "one")
	verifier := newTestService(t, "two")

	_, err := issuer.Register(ctx, &RegisterRequest{Username: "dave", Password: "password1"})
	require.NoError(t, err)
	res, err := issuer.Login(ctx, &LoginRequest{Username: "dave", Password: "password1"})
	require.NoError(t, err)

	_, _, err = verifier.ValidateToken(res.AccessToken)
	assert.Error(t, err)
	_, _, err = verifier.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, "secret")
	for _, name := range []string{"Alice", "alicia", "bob"} {
		_, err := s.Register(ctx, &RegisterRequest{Username: name, Password: "password1"})
		require.NoError(t, err)
	}

	users, err := s.SearchUsers(ctx, "ALI")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].DisplayName)
	assert.Empty(t, users[0].CredentialHash)
}
