// Package cache - быстрый read path статусов сессий поверх Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"

	"tradepilot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrCacheMiss - статуса нет в кэше
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "tradepilot:session:"

// StatusCache хранит последнее опубликованное представление сессии.
// TTL ограничен: статусы упавшего процесса со временем исчезают
// из read path сами.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatusCache создает кэш статусов
func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// SetStatus записывает представление сессии с TTL
func (c *StatusCache) SetStatus(ctx context.Context, view models.SessionView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(view.SessionID), data, c.ttl).Err()
}

// GetStatus возвращает представление сессии либо ErrCacheMiss
func (c *StatusCache) GetStatus(ctx context.Context, sessionID string) (*models.SessionView, error) {
	data, err := c.rdb.Get(ctx, key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var view models.SessionView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteStatus убирает статус вытесненной сессии
func (c *StatusCache) DeleteStatus(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, key(sessionID)).Err()
}
