// Package lock serializes evaluations of the same contract at the same
// height, so a result is computed at most once per key at a time.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker acquires exclusive access to a key, blocking until it is free or
// ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Key names the lock for one (contract, height) evaluation.
func Key(contractID string, height uint64) string {
	return fmt.Sprintf("weave:eval:%s@%d", contractID, height)
}

// Keyed is an in-process Locker.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyed returns an empty keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

func (k *Keyed) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

// Held reports how many callers hold or wait on key.
func (k *Keyed) Held(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.slots[key]; ok {
		return s.refs
	}
	return 0
}

func (k *Keyed) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
