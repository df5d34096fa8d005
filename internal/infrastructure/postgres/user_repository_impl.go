package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidtube/vidtube-api/internal/domain/entity"
	"github.com/vidtube/vidtube-api/internal/domain/repository"
)

const uniqueViolation = "23505"

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, created_at, updated_at`

func scanUser(row pgx.Row) (*entity.User, error) {
	u := &entity.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash,
		&u.AvatarURL, &u.CoverImageURL, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) Create(u *entity.User) error {
	ctx := context.Background()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, full_name, password_hash, avatar_url, cover_image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, u.Username, u.Email, u.FullName, u.PasswordHash, u.AvatarURL, u.CoverImageURL)

	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateUser
		}
		return err
	}
	return nil
}

func (r *UserRepository) GetByID(id string) (*entity.User, error) {
	ctx := context.Background()
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

func (r *UserRepository) GetByUsernameOrEmail(username, email string) (*entity.User, error) {
	ctx := context.Background()
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(username) = lower($1) OR email = $2
	`, username, email))
}

func (r *UserRepository) UpdateRefreshToken(id, token string) error {
	return r.exec(`
		UPDATE users
		SET refresh_token = $1, updated_at = $2
		WHERE id = $3
	`, repository.ErrNotFound, token, time.Now(), id)
}

func (r *UserRepository) RotateRefreshToken(id, old, new string) error {
	// Conditional swap: the WHERE clause closes the race between two
	// concurrent rotations so exactly one of them wins.
	return r.exec(`
		UPDATE users
		SET refresh_token = $1, updated_at = $2
		WHERE id = $3 AND refresh_token = $4
	`, repository.ErrTokenMismatch, new, time.Now(), id, old)
}

func (r *UserRepository) ClearRefreshToken(id string) error {
	return r.exec(`
		UPDATE users
		SET refresh_token = '', updated_at = $1
		WHERE id = $2
	`, repository.ErrNotFound, time.Now(), id)
}

func (r *UserRepository) UpdatePassword(id, passwordHash string) error {
	return r.exec(`
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`, repository.ErrNotFound, passwordHash, time.Now(), id)
}

func (r *UserRepository) UpdateDetails(u *entity.User) error {
	u.UpdatedAt = time.Now()
	ctx := context.Background()
	res, err := r.pool.Exec(ctx, `
		UPDATE users
		SET full_name = $1, email = $2, updated_at = $3
		WHERE id = $4
	`, u.FullName, u.Email, u.UpdatedAt, u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateUser
		}
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateAvatar(id, avatarURL string) error {
	return r.exec(`
		UPDATE users
		SET avatar_url = $1, updated_at = $2
		WHERE id = $3
	`, repository.ErrNotFound, avatarURL, time.Now(), id)
}

// exec runs an UPDATE and maps zero affected rows to noRows.
func (r *UserRepository) exec(sql string, noRows error, args ...any) error {
	ctx := context.Background()
	res, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return noRows
	}
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
