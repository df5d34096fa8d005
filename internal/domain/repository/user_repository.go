package repository

import (
	"errors"

	"github.com/vidtube/vidtube-api/internal/domain/entity"
)

var (
	// ErrNotFound is returned when no user matches the lookup keys.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned when an insert violates the
	// username/email uniqueness constraints.
	ErrDuplicateUser = errors.New("username or email already taken")
	// ErrTokenMismatch is returned by RotateRefreshToken when the stored
	// refresh token no longer matches the expected value, i.e. another
	// rotation or a logout won the race.
	ErrTokenMismatch = errors.New("stored refresh token mismatch")
)

// UserRepository defines the persistence operations for user accounts.
// Uniqueness of username (case-insensitive) and email is enforced by the
// store itself, not only by pre-checks.
type UserRepository interface {
	Create(u *entity.User) error
	GetByID(id string) (*entity.User, error)
	// GetByUsernameOrEmail matches either key independently, joined by OR.
	// Username comparison is case-insensitive.
	GetByUsernameOrEmail(username, email string) (*entity.User, error)
	// UpdateRefreshToken unconditionally sets the account's sole live
	// refresh token, superseding any prior one.
	UpdateRefreshToken(id, token string) error
	// RotateRefreshToken swaps old for new only if old is still the
	// stored value. Returns ErrTokenMismatch when the swap loses a race
	// with a concurrent rotation or logout.
	RotateRefreshToken(id, old, new string) error
	ClearRefreshToken(id string) error
	UpdatePassword(id, passwordHash string) error
	UpdateDetails(u *entity.User) error
	UpdateAvatar(id, avatarURL string) error
}
