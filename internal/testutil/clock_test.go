package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedClock_StartsAtEpoch(t *testing.T) {
	clock := NewFixedClock()
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, int64(1), clock.Ticks())
}

func TestFixedClock_AdvancesOneSecond(t *testing.T) {
	clock := NewFixedClock()

	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, time.Second, second.Sub(first))
}

func TestFixedClock_Reset(t *testing.T) {
	clock := NewFixedClock()
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestFixedClock_ThreadSafe(t *testing.T) {
	clock := NewFixedClock()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	seen := make(chan time.Time, numGoroutines*callsPerGoroutine)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		require.False(t, unique[ts], "timestamp %v returned twice", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, numGoroutines*callsPerGoroutine)
}
