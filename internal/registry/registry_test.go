package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/alternet/internal/registry"
)

// fakeConn is a mock implementation of io.Closer for testing.
type fakeConn struct {
	id       int
	closes   atomic.Int32
	closeErr error
}

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

func TestRegistry_Add(t *testing.T) {
	r := registry.New[string, *fakeConn]()

	require.NoError(t, r.Add("a", &fakeConn{id: 1}))
	require.NoError(t, r.Add("b", &fakeConn{id: 2}))
	assert.Equal(t, 2, r.Len())

	err := r.Add("a", &fakeConn{id: 3})
	require.ErrorIs(t, err, registry.ErrDuplicate)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.id, "existing entry must not be replaced")
}

func TestRegistry_Remove(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	c := &fakeConn{}
	require.NoError(t, r.Add("a", c))

	_, ok := r.Remove("missing")
	assert.False(t, ok)

	got, ok := r.Remove("a")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Zero(t, c.closes.Load(), "Remove must not close")
	assert.Zero(t, r.Len())

	require.NoError(t, r.Add("a", &fakeConn{}), "address is reusable after removal")
}

func TestRegistry_CloseIf(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	old := &fakeConn{id: 1}
	require.NoError(t, r.Add("a", old))

	_, took, err := r.CloseIf("a", func(c *fakeConn) bool { return c.id == 2 })
	require.NoError(t, err)
	assert.False(t, took, "non-matching entry must be left alone")
	assert.Zero(t, old.closes.Load())

	got, took, err := r.CloseIf("a", nil)
	require.NoError(t, err)
	require.True(t, took)
	assert.Same(t, old, got)
	assert.EqualValues(t, 1, old.closes.Load())

	_, took, err = r.CloseIf("a", nil)
	require.NoError(t, err)
	assert.False(t, took)
	assert.EqualValues(t, 1, old.closes.Load(), "close happens exactly once")
}

func TestRegistry_CloseIf_ReportsCloseError(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	boom := errors.New("boom")
	require.NoError(t, r.Add("a", &fakeConn{closeErr: boom}))

	_, took, err := r.CloseIf("a", nil)
	assert.True(t, took)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len(), "entry is removed even when Close fails")
}

func TestRegistry_CloseAll(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	conns := []*fakeConn{{}, {}, {closeErr: errors.New("x")}}
	for i, c := range conns {
		require.NoError(t, r.Add(fmt.Sprint(i), c))
	}

	n, err := r.CloseAll()
	assert.Error(t, err)
	assert.Equal(t, len(conns), n)
	assert.Zero(t, r.Len())
	for _, c := range conns {
		assert.EqualValues(t, 1, c.closes.Load())
	}

	require.ErrorIs(t, r.Add("late", &fakeConn{}), registry.ErrClosed)
	n, err = r.CloseAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_CloseAllCountsOnlyWhatItRemoves(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Add("a", a))
	require.NoError(t, r.Add("b", b))

	_, took, err := r.CloseIf("a", func(c *fakeConn) bool { return c == a })
	require.NoError(t, err)
	require.True(t, took)

	n, err := r.CloseAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, a.closes.Load())
	assert.EqualValues(t, 1, b.closes.Load())
}

func TestRegistry_Snapshot(t *testing.T) {
	r := registry.New[string, *fakeConn]()
	require.NoError(t, r.Add("a", &fakeConn{}))
	require.NoError(t, r.Add("b", &fakeConn{}))

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	// Mutating after the snapshot does not change it.
	r.CloseIf("a", nil)
	require.NoError(t, r.Add("c", &fakeConn{}))
	assert.Len(t, snap, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, r.Keys())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := registry.New[int, *fakeConn]()
	const n = 200

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return r.Add(i, &fakeConn{id: i}) })
	}
	require.NoError(t, g.Wait())
	require.Equal(t, n, r.Len())

	var wg sync.WaitGroup
	var took atomic.Int32
	for i := 0; i < n; i++ {
		i := i
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, ok, _ := r.CloseIf(i, nil); ok {
				took.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, ok, _ := r.CloseIf(i, nil); ok {
				took.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			for _, e := range r.Snapshot() {
				_ = e.Value.id
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, took.Load(), "each entry is taken exactly once")
	assert.Zero(t, r.Len())
}
