package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TurnLockRepository 在 Redis 中为每个会话维护一把轮次锁，避免同一会话的两轮对话交错。
type TurnLockRepository interface {
	Acquire(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID, holder string) error
}

type redisTurnLockRepository struct {
	redisClient *redis.Client
}

// NewTurnLockRepository 创建一个新的 TurnLockRepository 实例。
func NewTurnLockRepository(redisClient *redis.Client) TurnLockRepository {
	return &redisTurnLockRepository{redisClient: redisClient}
}

// releaseScript 只删除自己持有的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func turnLockKey(sessionID string) string {
	return fmt.Sprintf("chat:turn:%s", sessionID)
}

func (r *redisTurnLockRepository) Acquire(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, turnLockKey(sessionID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	return ok, nil
}

func (r *redisTurnLockRepository) Release(ctx context.Context, sessionID, holder string) error {
	if err := releaseScript.Run(ctx, r.redisClient, []string{turnLockKey(sessionID)}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release turn lock: %w", err)
	}
	return nil
}
