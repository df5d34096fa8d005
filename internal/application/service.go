package application

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vidtube/vidtube-api/internal/domain/entity"
	repo "github.com/vidtube/vidtube-api/internal/domain/repository"
	"github.com/vidtube/vidtube-api/pkg/helpers"
	"github.com/vidtube/vidtube-api/pkg/mailer"
)

// EmailPublisher enqueues email jobs for the worker. The RabbitMQ
// publisher satisfies it; tests substitute a fake.
type EmailPublisher interface {
	PublishJSON(ctx context.Context, body any) error
}

type Service struct {
	Repo         repo.UserRepository
	JWT          *helpers.JWTManager
	Storage      ObjectStorage
	Redis        *redis.Client
	Logger       *logrus.Logger
	ES           *elasticsearch.Client
	ESUsersIndex string
	Pub          EmailPublisher
	MailEnabled  bool
}

func NewService(r repo.UserRepository, jwt *helpers.JWTManager, storage ObjectStorage, rdb *redis.Client, logger *logrus.Logger, es *elasticsearch.Client, esUsersIndex string, pub EmailPublisher, mailEnabled bool) *Service {
	return &Service{
		Repo:         r,
		JWT:          jwt,
		Storage:      storage,
		Redis:        rdb,
		Logger:       logger,
		ES:           es,
		ESUsersIndex: esUsersIndex,
		Pub:          pub,
		MailEnabled:  mailEnabled,
	}
}

type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

type RegisterInput struct {
	FullName   string
	Username   string
	Email      string
	Password   string
	Avatar     *StagedFile // mandatory
	CoverImage *StagedFile // optional
}

// Register creates a new account: uniqueness check, password hash,
// avatar (and optional cover image) handoff to remote storage, insert.
// The returned user is sanitized.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	if in.Avatar == nil {
		// Mandatory asset missing: fail before any upload is attempted.
		in.CoverImage.Discard()
		return nil, ErrMissingAvatar
	}

	existing, err := s.Repo.GetByUsernameOrEmail(in.Username, in.Email)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		in.Avatar.Discard()
		in.CoverImage.Discard()
		return nil, err
	}
	if existing != nil {
		in.Avatar.Discard()
		in.CoverImage.Discard()
		return nil, ErrUserExists
	}

	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		in.Avatar.Discard()
		in.CoverImage.Discard()
		return nil, err
	}

	avatarURL, err := s.commitUpload(ctx, in.Avatar, "avatars")
	if err != nil {
		in.CoverImage.Discard()
		s.Logger.WithError(err).WithField("username", in.Username).Error("avatar upload failed")
		return nil, ErrAvatarUpload
	}

	coverURL := ""
	if in.CoverImage != nil {
		// Optional asset: a failed upload produces no asset, not a
		// failed registration.
		if u, cErr := s.commitUpload(ctx, in.CoverImage, "covers"); cErr == nil {
			coverURL = u
		} else {
			s.Logger.WithError(cErr).WithField("username", in.Username).Warn("cover image upload failed")
		}
	}

	u := &entity.User{
		Username:      strings.ToLower(in.Username),
		Email:         in.Email,
		FullName:      in.FullName,
		PasswordHash:  hash,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
	}
	if err := s.Repo.Create(u); err != nil {
		if errors.Is(err, repo.ErrDuplicateUser) {
			// Lost the check-then-act race; the remote assets are
			// orphaned, log enough for manual reconciliation.
			s.Logger.WithFields(logrus.Fields{
				"username": u.Username,
				"avatar":   avatarURL,
				"cover":    coverURL,
			}).Warn("duplicate registration lost race, remote assets orphaned")
			return nil, ErrUserExists
		}
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"username": u.Username,
			"avatar":   avatarURL,
			"cover":    coverURL,
		}).Error("account insert failed after upload, remote assets orphaned")
		return nil, err
	}

	_ = s.indexUser(ctx, u)
	s.publishEmail(ctx, mailer.EmailJob{
		To:       u.Email,
		Template: mailer.TemplateWelcome,
		Data:     map[string]any{"FullName": u.FullName, "Username": u.Username},
	})

	out := u.Sanitized()
	return &out, nil
}

// Login verifies credentials by username or email and issues a token
// pair. The password is checked exactly once per attempt.
func (s *Service) Login(ctx context.Context, username, email, password, ip string) (*entity.User, TokenPair, error) {
	u, err := s.Repo.GetByUsernameOrEmail(username, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if !helpers.CompareHashAndPassword(u.PasswordHash, password) {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.IssueTokens(ctx, u)
	if err != nil {
		return nil, TokenPair{}, err
	}

	s.publishEmail(ctx, mailer.EmailJob{
		To:       u.Email,
		Template: mailer.TemplateLoginNotification,
		Data:     map[string]any{"FullName": u.FullName, "Username": u.Username, "IP": ip},
	})

	out := u.Sanitized()
	return &out, pair, nil
}

// IssueTokens signs an access/refresh pair and persists the refresh
// token as the account's sole live one, superseding any prior session.
func (s *Service) IssueTokens(ctx context.Context, u *entity.User) (TokenPair, error) {
	access, aexp, err := s.JWT.GenerateAccessToken(u.ID)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Error("generate access token failed")
		return TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(u.ID)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Error("generate refresh token failed")
		return TokenPair{}, err
	}
	if err := s.Repo.UpdateRefreshToken(u.ID, refresh); err != nil {
		return TokenPair{}, err
	}
	u.RefreshToken = refresh

	s.cacheProfile(ctx, u)

	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

// Refresh validates a presented refresh token and rotates it. The
// stored token is the sole authority: a structurally valid token that
// does not match it exactly is rejected as superseded.
func (s *Service) Refresh(ctx context.Context, token string) (*entity.User, TokenPair, error) {
	claims, err := s.JWT.ParseRefreshToken(token)
	if err != nil {
		return nil, TokenPair{}, ErrRefreshInvalid
	}

	u, err := s.Repo.GetByID(claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, TokenPair{}, ErrRefreshUserNotFound
		}
		return nil, TokenPair{}, err
	}

	if u.RefreshToken == "" ||
		subtle.ConstantTimeCompare([]byte(u.RefreshToken), []byte(token)) != 1 {
		return nil, TokenPair{}, ErrRefreshStale
	}

	access, aexp, err := s.JWT.GenerateAccessToken(u.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(u.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}

	// Conditional swap in the store: two concurrent refreshes with the
	// same token leave exactly one winner.
	if err := s.Repo.RotateRefreshToken(u.ID, token, refresh); err != nil {
		if errors.Is(err, repo.ErrTokenMismatch) {
			return nil, TokenPair{}, ErrRefreshStale
		}
		return nil, TokenPair{}, err
	}
	u.RefreshToken = refresh

	s.cacheProfile(ctx, u)

	out := u.Sanitized()
	return &out, TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

// Logout clears the account's stored refresh token; any refresh attempt
// with the pre-logout token then fails as superseded.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.Repo.ClearRefreshToken(userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.dropProfile(ctx, userID)
	return nil
}

// GetProfile returns the sanitized account, read through the cache.
func (s *Service) GetProfile(ctx context.Context, userID string) (*entity.User, error) {
	if cached := s.cachedProfile(ctx, userID); cached != nil {
		return cached, nil
	}
	u, err := s.Repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.cacheProfile(ctx, u)
	out := u.Sanitized()
	return &out, nil
}

// ChangePassword verifies the current password before storing a hash of
// the new one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.Repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !helpers.CompareHashAndPassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	hash, err := helpers.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.Repo.UpdatePassword(userID, hash)
}

type UpdateDetailsInput struct {
	FullName string
	Email    string
}

// UpdateDetails patches fullname/email on the account.
func (s *Service) UpdateDetails(ctx context.Context, userID string, in UpdateDetailsInput) (*entity.User, error) {
	u, err := s.Repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if in.FullName != "" {
		u.FullName = in.FullName
	}
	if in.Email != "" {
		u.Email = in.Email
	}
	if err := s.Repo.UpdateDetails(u); err != nil {
		if errors.Is(err, repo.ErrDuplicateUser) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.cacheProfile(ctx, u)
	_ = s.indexUser(ctx, u)

	out := u.Sanitized()
	return &out, nil
}

// UpdateAvatar commits a newly staged avatar to remote storage and
// points the account at it. The old remote asset is left in place.
func (s *Service) UpdateAvatar(ctx context.Context, userID string, avatar *StagedFile) (*entity.User, error) {
	if avatar == nil {
		return nil, ErrMissingAvatar
	}
	u, err := s.Repo.GetByID(userID)
	if err != nil {
		avatar.Discard()
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	url, err := s.commitUpload(ctx, avatar, "avatars")
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Error("avatar upload failed")
		return nil, ErrAvatarUpload
	}
	if err := s.Repo.UpdateAvatar(userID, url); err != nil {
		return nil, err
	}
	u.AvatarURL = url

	s.cacheProfile(ctx, u)
	_ = s.indexUser(ctx, u)

	out := u.Sanitized()
	return &out, nil
}

func (s *Service) publishEmail(ctx context.Context, job mailer.EmailJob) {
	if s.Pub == nil || !s.MailEnabled {
		return
	}
	if err := s.Pub.PublishJSON(ctx, job); err != nil {
		s.Logger.WithError(err).WithField("template", job.Template).Warn("email job publish failed")
	}
}
