package rtcaudio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"weak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_ValidAndString(t *testing.T) {
	assert.False(t, InvalidHandle.Valid())
	assert.True(t, Handle(7).Valid())
	assert.Equal(t, "0x2a", Handle(42).String())
}

func TestHandleTable_RegisterResolveUnregister(t *testing.T) {
	table := newHandleTable()
	r := &resource{}

	require.NoError(t, table.register(1, r))
	got, ok := table.resolve(1)
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.Equal(t, 1, table.len())

	table.unregister(1, weak.Make(r))
	_, ok = table.resolve(1)
	assert.False(t, ok)
	assert.Zero(t, table.len())

	// Unregistering an absent handle is a no-op.
	table.unregister(1, weak.Make(r))
	runtime.KeepAlive(r)
}

func TestHandleTable_RegisterTwiceFails(t *testing.T) {
	table := newHandleTable()
	a, b := &resource{}, &resource{}

	require.NoError(t, table.register(5, a))
	err := table.register(5, b)
	assert.ErrorIs(t, err, ErrHandleInUse)

	got, ok := table.resolve(5)
	require.True(t, ok)
	assert.Same(t, a, got, "failed registration must not replace the entry")
	runtime.KeepAlive(b)
}

func TestHandleTable_ZeroHandleRejected(t *testing.T) {
	table := newHandleTable()
	assert.ErrorIs(t, table.register(InvalidHandle, &resource{}), ErrInvalidHandle)
	assert.Zero(t, table.len())
}

func TestHandleTable_StaleUnregisterKeepsNewerEntry(t *testing.T) {
	table := newHandleTable()
	old, newer := &resource{}, &resource{}

	require.NoError(t, table.register(9, old))
	table.unregister(9, weak.Make(old))
	require.NoError(t, table.register(9, newer))

	// A late cleanup for the old proxy arrives.
	table.unregister(9, weak.Make(old))

	got, ok := table.resolve(9)
	require.True(t, ok)
	assert.Same(t, newer, got)
	runtime.KeepAlive(old)
	runtime.KeepAlive(newer)
}

func TestHandleTable_ReclaimedEntryResolvesAsMiss(t *testing.T) {
	table := newHandleTable()
	func() {
		require.NoError(t, table.register(3, &resource{}))
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		_, ok := table.resolve(3)
		return !ok
	}, waitFor, tick)

	// The stale entry still occupies the slot until unregistered.
	assert.ErrorIs(t, table.register(3, &resource{}), ErrHandleInUse)
}

func TestHandleTable_ConcurrentResolveDuringChurn(t *testing.T) {
	table := newHandleTable()
	r := &resource{}
	wp := weak.Make(r)

	stop := make(chan struct{})
	var hits, misses atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got, ok := table.resolve(11); ok {
				if got != r {
					t.Errorf("resolved a foreign resource")
					return
				}
				hits.Add(1)
			} else {
				misses.Add(1)
			}
		}
	}()

	for range 2000 {
		require.NoError(t, table.register(11, r))
		table.unregister(11, wp)
	}
	close(stop)
	wg.Wait()

	assert.Positive(t, hits.Load()+misses.Load())
	assert.Zero(t, table.len())
	runtime.KeepAlive(r)
}
