package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ExclusivePerName(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	unlock, ok, err := l.TryLock(ctx, "expiry")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "expiry")
	require.NoError(t, err)
	assert.False(t, ok, "held lock is not granted twice")

	_, ok, err = l.TryLock(ctx, "eligibility")
	require.NoError(t, err)
	assert.True(t, ok, "other names are independent")

	require.NoError(t, unlock(ctx))
	_, ok, err = l.TryLock(ctx, "expiry")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocal_DoubleUnlockDoesNotReleaseNewHolder(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, _, _ := l.TryLock(ctx, "expiry")
	require.NoError(t, first(ctx))
	_, ok, _ := l.TryLock(ctx, "expiry")
	require.True(t, ok)

	require.NoError(t, first(ctx))

	_, ok, _ = l.TryLock(ctx, "expiry")
	assert.False(t, ok)
}

func TestLocal_Concurrent(t *testing.T) {
	// GIVEN: 20 goroutines racing for one name
	// WHEN: None of them unlocks
	// THEN: Exactly one acquires it

	ctx := context.Background()
	l := NewLocal()
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryLock(ctx, "expiry"); ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestAdvisoryKey_StablePerName(t *testing.T) {
	assert.Equal(t, advisoryKey("expiry"), advisoryKey("expiry"))
	assert.NotEqual(t, advisoryKey("expiry"), advisoryKey("eligibility"))
}

func TestNewRedis_Defaults(t *testing.T) {
	r := NewRedis(nil, "", 0)

	assert.Equal(t, DefaultLease, r.lease)
	assert.Equal(t, "visits:lock:", r.prefix)
}
