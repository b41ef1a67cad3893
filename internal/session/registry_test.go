package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpoint struct {
	id     uint64
	closed atomic.Bool
}

var nextFakeID atomic.Uint64

func newFakeEndpoint() *fakeEndpoint { return &fakeEndpoint{id: nextFakeID.Add(1)} }

func (f *fakeEndpoint) ID() uint64 { return f.id }
func (f *fakeEndpoint) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: int(f.id)}
}
func (f *fakeEndpoint) Write([]byte) error { return nil }
func (f *fakeEndpoint) Close() error       { f.closed.Store(true); return nil }
func (f *fakeEndpoint) Closed() bool       { return f.closed.Load() }

const imei = "861197062934387"

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	a := newFakeEndpoint()

	prev := r.RegisterOrTakeover(a, imei)
	assert.Nil(t, prev)

	ep, ok := r.EndpointFor(imei)
	require.True(t, ok)
	assert.Equal(t, a.ID(), ep.ID())

	id, ok := r.IdentityFor(a)
	require.True(t, ok)
	assert.Equal(t, imei, id)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{imei}, r.List())
}

func TestRegistry_Takeover(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeEndpoint(), newFakeEndpoint()
	r.RegisterOrTakeover(a, imei)

	prev := r.RegisterOrTakeover(b, imei)
	require.NotNil(t, prev)
	assert.Equal(t, a.ID(), prev.ID())

	ep, ok := r.EndpointFor(imei)
	require.True(t, ok)
	assert.Equal(t, b.ID(), ep.ID())
	assert.Equal(t, 1, r.Len())

	t.Run("旧端点不能复活", func(t *testing.T) {
		_, ok := r.IdentityFor(a)
		assert.False(t, ok)

		id, offline := r.Remove(a)
		assert.Empty(t, id)
		assert.False(t, offline)

		ep, ok := r.EndpointFor(imei)
		require.True(t, ok)
		assert.Equal(t, b.ID(), ep.ID())
	})
}

func TestRegistry_SameEndpointRelogin(t *testing.T) {
	r := NewRegistry()
	a := newFakeEndpoint()
	r.RegisterOrTakeover(a, imei)
	assert.Nil(t, r.RegisterOrTakeover(a, imei))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EndpointChangesIdentity(t *testing.T) {
	r := NewRegistry()
	a := newFakeEndpoint()
	r.RegisterOrTakeover(a, "AAA")
	r.RegisterOrTakeover(a, "BBB")

	_, ok := r.EndpointFor("AAA")
	assert.False(t, ok)
	id, ok := r.IdentityFor(a)
	require.True(t, ok)
	assert.Equal(t, "BBB", id)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Touch(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(WithNow(func() time.Time { return base }))
	a := newFakeEndpoint()

	t.Run("未知设备为空操作", func(t *testing.T) {
		assert.False(t, r.Touch("nobody", base))
		assert.Equal(t, 0, r.Len())
		_, ok := r.Get("nobody")
		assert.False(t, ok)
	})

	r.RegisterOrTakeover(a, imei)
	snap, _ := r.Get(imei)
	assert.Equal(t, base, snap.LastActiveAt.UTC())

	later := base.Add(30 * time.Second)
	assert.True(t, r.Touch(imei, later))
	snap, _ = r.Get(imei)
	assert.Equal(t, later, snap.LastActiveAt.UTC())
	assert.Equal(t, base, snap.ConnectedAt)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	a := newFakeEndpoint()
	r.RegisterOrTakeover(a, imei)

	id, offline := r.Remove(a)
	assert.Equal(t, imei, id)
	assert.True(t, offline)
	assert.Equal(t, 0, r.Len())

	_, ok := r.EndpointFor(imei)
	assert.False(t, ok)

	// 重复移除无副作用
	id, offline = r.Remove(a)
	assert.Empty(t, id)
	assert.False(t, offline)
}

func TestRegistry_Sweep(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(WithNow(func() time.Time { return base }))
	stale, fresh := newFakeEndpoint(), newFakeEndpoint()
	r.RegisterOrTakeover(stale, "STALE")
	r.RegisterOrTakeover(fresh, "FRESH")
	r.Touch("FRESH", base.Add(170*time.Second))

	evicted := r.Sweep(base.Add(200*time.Second), 180*time.Second)
	require.Len(t, evicted, 1)
	assert.Equal(t, "STALE", evicted[0].Identity)
	assert.Equal(t, []string{"FRESH"}, r.List())
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.RegisterOrTakeover(newFakeEndpoint(), fmt.Sprintf("DEV%02d", i))
	}
	all := r.Clear()
	assert.Len(t, all, 5)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())
}

func TestRegistry_ConcurrentTakeover(t *testing.T) {
	r := NewRegistry()
	const n = 50
	eps := make([]*fakeEndpoint, n)
	for i := range eps {
		eps[i] = newFakeEndpoint()
	}

	var wg sync.WaitGroup
	var displaced atomic.Int64
	for _, ep := range eps {
		wg.Add(1)
		go func(ep *fakeEndpoint) {
			defer wg.Done()
			if prev := r.RegisterOrTakeover(ep, imei); prev != nil {
				displaced.Add(1)
			}
			_, _ = r.EndpointFor(imei)
		}(ep)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	assert.EqualValues(t, n-1, displaced.Load())

	owner, ok := r.EndpointFor(imei)
	require.True(t, ok)
	bound := 0
	for _, ep := range eps {
		if id, ok := r.IdentityFor(ep); ok {
			bound++
			assert.Equal(t, imei, id)
			assert.Equal(t, owner.ID(), ep.ID())
		}
	}
	assert.Equal(t, 1, bound)
}

func TestRegistry_Snapshots(t *testing.T) {
	r := NewRegistry()
	r.RegisterOrTakeover(newFakeEndpoint(), "B")
	r.RegisterOrTakeover(newFakeEndpoint(), "A")
	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "A", snaps[0].Identity)
	assert.NotEmpty(t, snaps[0].RemoteAddr)
}
