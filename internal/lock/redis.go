package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relgate/relgate/pkg/log"
)

// releaseScript deletes the lock key only if it still holds our token, so a
// lease that expired and was re-acquired elsewhere is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the redis connection used for target locks.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient creates the redis client for target locking.
func NewRedisClient(conf RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	return client, nil
}

// RedisLocker serializes targets across processes using a SET NX lease.
type RedisLocker struct {
	client    *redis.Client
	lease     time.Duration
	retryWait time.Duration
}

// NewRedisLocker creates a distributed locker. lease bounds how long a
// crashed holder can block other runs.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &RedisLocker{
		client:    client,
		lease:     lease,
		retryWait: 500 * time.Millisecond,
	}
}

func lockKey(target string) string {
	return "relgate:deploy-lock:" + target
}

func (l *RedisLocker) Acquire(ctx context.Context, target string) (func(), error) {
	key := lockKey(target)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", target, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	release := func() {
		// Release runs on cleanup paths; use a fresh context so a
		// cancelled run still frees the target.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Warnf("failed to release deploy lock for %s: %v", target, err)
		}
	}
	return release, nil
}
