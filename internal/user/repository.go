package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-audiochat/internal/db"
	"go-audiochat/internal/domain"
)

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	query := "INSERT INTO users (id, username, password, created_at) VALUES (?, ?, ?, ?)"

	_, err := r.db.Conn.ExecContext(ctx, r.db.Rebind(query), u.ID, u.DisplayName, u.CredentialHash, u.CreatedAt.UnixMicro())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrDuplicateUsername
		}
		return domain.StorageError("create user", err)
	}
	return nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getUser(ctx, "username", username)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, "id", id)
}

func (r *Repository) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	u := &domain.User{}
	var created int64
	query := "SELECT id, username, password, created_at FROM users WHERE " + column + " = ?"

	err := r.db.Conn.QueryRowContext(ctx, r.db.Rebind(query), value).Scan(&u.ID, &u.DisplayName, &u.CredentialHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.StorageError("get user", err)
	}
	u.CreatedAt = time.UnixMicro(created).UTC()
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, created_at FROM users WHERE LOWER(username) LIKE LOWER(?) ORDER BY username LIMIT 10`
	rows, err := r.db.Conn.QueryContext(ctx, r.db.Rebind(q), "%"+query+"%")
	if err != nil {
		return nil, domain.StorageError("search users", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var (
			u       domain.User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &created); err != nil {
			return nil, domain.StorageError("search users", err)
		}
		u.CreatedAt = time.UnixMicro(created).UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("search users", err)
	}
	return users, nil
}
