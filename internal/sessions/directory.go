package sessions

import (
	"context"
	"fmt"

	"example.com/sitewatch/services/monitoring/internal/cache"
)

// Directory tracks the active push sessions of each operator. The
// authentication layer registers handles on login and removes them on
// logout or expiry; the notifier only reads.
type Directory interface {
	ActiveSessions(ctx context.Context, operatorID uint) ([]string, error)
	RegisterSession(ctx context.Context, operatorID uint, handle string) error
	RemoveSession(ctx context.Context, operatorID uint, handle string) error
}

// redisDirectory implements Directory on a Redis set per operator
type redisDirectory struct {
	redis cache.RedisClient
}

// NewDirectory creates a Redis-backed session directory
func NewDirectory(redis cache.RedisClient) Directory {
	return &redisDirectory{redis: redis}
}

func sessionKey(operatorID uint) string {
	return fmt.Sprintf("monitoring:operator:%d:sessions", operatorID)
}

// ActiveSessions returns the operator's live session handles
func (d *redisDirectory) ActiveSessions(ctx context.Context, operatorID uint) ([]string, error) {
	return d.redis.SetMembers(ctx, sessionKey(operatorID))
}

// RegisterSession adds a session handle for an operator
func (d *redisDirectory) RegisterSession(ctx context.Context, operatorID uint, handle string) error {
	return d.redis.SetAdd(ctx, sessionKey(operatorID), handle)
}

// RemoveSession drops a session handle for an operator
func (d *redisDirectory) RemoveSession(ctx context.Context, operatorID uint, handle string) error {
	return d.redis.SetRemove(ctx, sessionKey(operatorID), handle)
}
