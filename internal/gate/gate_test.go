package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSignalReleasesWaiters(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.WaitTimeout(time.Second)
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	g.Signal()
	wg.Wait()
	assert.Equal(t, []bool{true, true, true}, results)
	assert.True(t, g.IsSet())
}

func TestGateTimeoutReturnsFalse(t *testing.T) {
	g := New()
	start := time.Now()
	assert.False(t, g.WaitTimeout(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGateClearResets(t *testing.T) {
	g := New()
	g.Signal()
	g.Signal()
	assert.True(t, g.WaitTimeout(time.Millisecond))

	g.Clear()
	assert.False(t, g.IsSet())
	assert.False(t, g.WaitTimeout(10*time.Millisecond))
}

// A signal left over from an earlier exchange satisfies the next wait unless
// the gate is cleared first.
func TestGateStaleSignalWithoutClear(t *testing.T) {
	g := New()
	g.Signal()
	assert.True(t, g.WaitTimeout(time.Millisecond))
	g.Clear()
	assert.False(t, g.WaitTimeout(time.Millisecond))
}

func TestGateWaitHonoursContext(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, g.Wait(ctx))
}

func TestRegistryResolvesOnlyOwnKey(t *testing.T) {
	r := NewRegistry()
	a := Key{Kind: "historical", ID: 1}
	b := Key{Kind: "historical", ID: 2}

	ha, err := r.Begin(a)
	require.NoError(t, err)
	hb, err := r.Begin(b)
	require.NoError(t, err)

	assert.True(t, r.Resolve(b))
	assert.True(t, hb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, ha.Wait(ctx))
	assert.True(t, r.Pending(a))
	assert.False(t, r.Pending(b))
}

func TestRegistryRejectsDuplicateKey(t *testing.T) {
	r := NewRegistry()
	k := Key{Kind: "positions"}
	_, err := r.Begin(k)
	require.NoError(t, err)
	_, err = r.Begin(k)
	assert.True(t, errors.Is(err, ErrInFlight))
}

func TestRegistryAbandonIgnoresLateReply(t *testing.T) {
	r := NewRegistry()
	k := Key{Kind: "contract", ID: 7}
	old, err := r.Begin(k)
	require.NoError(t, err)
	r.Abandon(k, old)
	assert.Equal(t, 0, r.Len())

	// late terminal callback for the abandoned request
	assert.False(t, r.Resolve(k))

	fresh, err := r.Begin(k)
	require.NoError(t, err)
	r.Abandon(k, old)
	assert.True(t, r.Pending(k))

	assert.True(t, r.Resolve(k))
	assert.True(t, fresh.Wait(context.Background()))
}
