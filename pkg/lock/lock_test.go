package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "weave:eval:abc@42", Key("abc", 42))
}

func TestKeyed_ExcludesSameKey(t *testing.T) {
	k := NewKeyed()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "c@1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, k.Held("c@1"))
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := NewKeyed()
	a, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer a()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	b()
	b()
}

func TestKeyed_ContextCancelled(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.Held("a"))

	unlock()
	assert.Equal(t, 0, k.Held("a"))
}

// TestRedis_Integration requires a running Redis.
// We skip if connection fails.
func TestRedis_Integration(t *testing.T) {
	r := NewRedis(RedisConfig{Addr: "localhost:6379", TTL: 300 * time.Millisecond, Poll: 5 * time.Millisecond})
	ctx := context.Background()
	if err := r.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := Key("lock-test", uint64(time.Now().UnixNano()))
	unlock, err := r.Lock(ctx, key)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = r.Lock(short, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the lease outlives its TTL while renewed
	time.Sleep(400 * time.Millisecond)
	short2, cancel2 := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel2()
	_, err = r.Lock(short2, key)
	assert.Error(t, err)

	unlock()
	again, err := r.Lock(ctx, key)
	require.NoError(t, err)
	again()
}
