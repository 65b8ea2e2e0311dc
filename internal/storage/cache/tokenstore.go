// Package cache decorates a TokenStore with a Redis read-aside cache.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// CacheClient is the subset of Redis the decorator needs.
type CacheClient interface {
	// Get decodes the value into dest, returning an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedTokenStore serves Fetch from the cache and invalidates the user's
// entry after every successful write to the underlying store.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, user urn.URN) (*notification.NotificationRequest, error) {
	key := cacheKey(user)

	var cached notification.NotificationRequest
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("Cache read failed, falling back to store", "key", key, "err", err)
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// A cache that is down only costs latency.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Cache fill failed", "key", key, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// UnregisterFCM must clear the cache even though the store write already
// succeeded, or a stale entry keeps notifying a revoked device until TTL.
func (s *CachedTokenStore) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) ReplaceFCM(ctx context.Context, user urn.URN, oldToken, newToken string) error {
	if err := s.realStore.ReplaceFCM(ctx, user, oldToken, newToken); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, user urn.URN) error {
	return s.cache.Del(ctx, cacheKey(user))
}

func cacheKey(user urn.URN) string {
	return "notify:tokens:" + user.String()
}
