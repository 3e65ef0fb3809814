package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_SerializesSameKey(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lt.Acquire(context.Background(), "p1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLockTable_DifferentKeysDoNotBlock(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	release1, err := lt.Acquire(context.Background(), "p1")
	require.NoError(t, err)
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	release2, err := lt.Acquire(ctx, "p2")
	require.NoError(t, err, "p2 must not wait for p1")
	release2()
}

func TestLockTable_AcquireHonorsContext(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	release, err := lt.Acquire(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = lt.Acquire(ctx, "p1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()

	// タイムアウトした待機者の参照は解放されている
	lt.mu.Lock()
	refs := lt.entries["p1"].refs
	lt.mu.Unlock()
	assert.Equal(t, 0, refs)

	release, err = lt.Acquire(context.Background(), "p1")
	require.NoError(t, err)
	release()
}

func TestLockTable_ReleaseIsIdempotent(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	release, err := lt.Acquire(context.Background(), "p1")
	require.NoError(t, err)
	release()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	release, err = lt.Acquire(ctx, "p1")
	require.NoError(t, err)
	release()
}

func TestLockTable_SweepEvictsIdleUnreferencedEntries(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lt.now = func() time.Time { return now }

	idle, err := lt.Acquire(context.Background(), "idle")
	require.NoError(t, err)
	idle()

	held, err := lt.Acquire(context.Background(), "held")
	require.NoError(t, err)
	defer held()

	require.Equal(t, 2, lt.Len())

	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, lt.sweep(), "entries within idle TTL are kept")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, lt.sweep())
	assert.Equal(t, 1, lt.Len())

	lt.mu.Lock()
	_, heldExists := lt.entries["held"]
	lt.mu.Unlock()
	assert.True(t, heldExists, "held lock must never be evicted")
}

func TestLockTable_ManyPrincipalsBounded(t *testing.T) {
	lt := NewLockTable(time.Minute)
	defer lt.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lt.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		release, err := lt.Acquire(context.Background(), fmt.Sprintf("principal-%d", i))
		require.NoError(t, err)
		release()
	}
	require.Equal(t, 1000, lt.Len())

	now = now.Add(time.Hour)
	lt.sweep()
	assert.Equal(t, 0, lt.Len())
}
