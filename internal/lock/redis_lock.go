package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Удаляет ключ, только если он все еще принадлежит владельцу токена.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const retryInterval = 50 * time.Millisecond

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisLocker создает блокировщик на Redis (SET NX PX + снятие Lua-скриптом).
// ttl ограничивает время жизни блокировки упавшего процесса, wait - время ожидания.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) RunLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisLocker{client: client, ttl: ttl, wait: wait, logger: logger.Named("RedisRunLocker")}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			l.logger.Error("Failed to acquire run lock", zap.String("key", key), zap.Error(err))
			return nil, fmt.Errorf("failed to acquire run lock %s: %w", key, err)
		}
		if ok {
			l.logger.Debug("Run lock acquired", zap.String("key", key))
			return l.unlockFunc(key, token), nil
		}
		select {
		case <-ctx.Done():
			l.logger.Warn("Run lock wait expired", zap.String("key", key))
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}
}

func (l *redisLocker) unlockFunc(key, token string) Unlock {
	return func(ctx context.Context) error {
		deleted, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release run lock %s: %w", key, err)
		}
		if deleted == 0 {
			l.logger.Warn("Run lock expired before release", zap.String("key", key))
		}
		return nil
	}
}
