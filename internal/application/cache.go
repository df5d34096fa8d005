package application

import (
	"context"
	"time"

	"github.com/vidtube/vidtube-api/internal/domain/entity"
	"github.com/vidtube/vidtube-api/pkg/helpers"
)

// Profile cache in Redis. Purely an acceleration for profile reads:
// authentication never consults it, so protected routes stay on the
// stateless access-token fast path.

const profileCacheTTL = 24 * time.Hour

func profileKey(userID string) string {
	return "user:profile:" + userID
}

func (s *Service) cacheProfile(ctx context.Context, u *entity.User) {
	if s.Redis == nil {
		return
	}
	sanitized := u.Sanitized()
	if err := helpers.RedisSetJSON(ctx, s.Redis, profileKey(u.ID), sanitized, profileCacheTTL); err != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Warn("profile cache write failed")
	}
}

func (s *Service) cachedProfile(ctx context.Context, userID string) *entity.User {
	if s.Redis == nil {
		return nil
	}
	var u entity.User
	ok, err := helpers.RedisGetJSON(ctx, s.Redis, profileKey(userID), &u)
	if err != nil || !ok {
		return nil
	}
	return &u
}

func (s *Service) dropProfile(ctx context.Context, userID string) {
	if s.Redis == nil {
		return
	}
	if err := helpers.RedisDel(ctx, s.Redis, profileKey(userID)); err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Warn("profile cache delete failed")
	}
}
