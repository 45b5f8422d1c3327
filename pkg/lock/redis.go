package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while it still carries our token.
// KEYS[1] = lease key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lease expiry forward while we still own it.
// KEYS[1] = lease key
// ARGV[1] = token
// ARGV[2] = ttl in milliseconds
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a Redis lease lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed holder keeps the lease. The holder
	// renews it every TTL/3 while the evaluation runs.
	TTL time.Duration
	// Poll is the retry interval while the lease is taken.
	Poll time.Duration
}

// Redis is a Locker shared by every engine process pointed at the same
// Redis instance.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// NewRedis connects a lease lock.
func NewRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(rdb, cfg.TTL, cfg.Poll)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, ttl, poll time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		poll:   poll,
		logger: slog.Default().With("component", "lock"),
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn("lease release failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := extendScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				r.logger.Warn("lease renewal failed", "key", key, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Warn("lease lost", "key", key)
				return
			}
		}
	}
}
