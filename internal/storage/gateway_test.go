package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyStore wraps a MemoryStore and fails every call while down is set.
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	down  bool
	calls int
}

var errDown = errors.New("connection refused")

func newFlakyStore() *flakyStore { return &flakyStore{MemoryStore: NewMemoryStore()} }

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errDown
	}
	return nil
}

func (f *flakyStore) Save(ctx context.Context, key string, value []byte) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryStore.Save(ctx, key, value)
}

func (f *flakyStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.MemoryStore.Load(ctx, key)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Save(ctx, "patterns", []byte(`[]`)))
	got, err := m.Load(ctx, "patterns")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got))

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Save(ctx, "", nil), ErrEmptyKey)

	require.NoError(t, m.Delete(ctx, "patterns"))
	_, err = m.Load(ctx, "patterns")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatewayPrimarySuccessSkipsFallback(t *testing.T) {
	ctx := context.Background()
	primary, local := NewMemoryStore(), NewMemoryStore()
	g := NewGateway(primary, local, WithLogger(zaptest.NewLogger(t)))

	ok, err := g.Save(ctx, "state", []byte(`{"phase":"RULE_BASED"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, local.Keys())

	data, err := g.Load(ctx, "state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"RULE_BASED"}`, string(data))
	assert.Equal(t, Status{HasPrimary: true, IsPrimaryAvailable: true, HasFallback: true}, g.Status())
}

func TestGatewayFallsBackAndBacksOff(t *testing.T) {
	ctx := context.Background()
	primary, local := newFlakyStore(), NewMemoryStore()
	primary.setDown(true)
	g := NewGateway(primary, local, WithLogger(zaptest.NewLogger(t)), WithRetryInterval(time.Hour))

	ok, err := g.Save(ctx, "statistics", []byte(`{}`))
	require.NoError(t, err, "a fallback write is not an error")
	assert.False(t, ok)
	assert.False(t, g.Status().IsPrimaryAvailable)
	assert.Contains(t, local.Keys(), "statistics")

	calls := primary.callCount()
	ok, err = g.Save(ctx, "statistics", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, calls, primary.callCount(), "primary is not retried before the interval")

	data, err := g.Load(ctx, "statistics")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(data))
}

func TestGatewayProbeRestoresPrimary(t *testing.T) {
	ctx := context.Background()
	primary, local := newFlakyStore(), NewMemoryStore()
	primary.setDown(true)
	g := NewGateway(primary, local, WithRetryInterval(time.Hour))

	_, _ = g.Save(ctx, "network", []byte(`{}`))
	require.False(t, g.Status().IsPrimaryAvailable)

	assert.False(t, g.Probe(ctx))
	primary.setDown(false)
	assert.True(t, g.Probe(ctx))

	ok, err := g.Save(ctx, "network", []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGatewayLoadFallsBackOnMiss(t *testing.T) {
	ctx := context.Background()
	primary, local := NewMemoryStore(), NewMemoryStore()
	require.NoError(t, local.Save(ctx, "patterns", []byte(`[1]`)))
	g := NewGateway(primary, local)

	data, err := g.Load(ctx, "patterns")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(data))

	_, err = g.Load(ctx, "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatewayTotalFailure(t *testing.T) {
	ctx := context.Background()
	primary, local := newFlakyStore(), newFlakyStore()
	primary.setDown(true)
	local.setDown(true)
	g := NewGateway(primary, local)

	ok, err := g.Save(ctx, "state", []byte(`{}`))
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)

	_, err = g.Load(ctx, "state")
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGatewayLocalOnly(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore()
	g := NewGateway(nil, local)

	ok, err := g.Save(ctx, "state", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Status{HasFallback: true}, g.Status())
	assert.False(t, g.Probe(ctx))

	require.NoError(t, g.Delete(ctx, "state"))
	_, err = g.Load(ctx, "state")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewGateway(nil, nil).Save(ctx, "state", nil)
	assert.Error(t, err)
}

// tickingClock advances one minute per reading so write order is unambiguous.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func TestGatewayLoadPrefersNewerLocalCopyAfterOutage(t *testing.T) {
	ctx := context.Background()
	clock := tickingClock()
	primary, local := newFlakyStore(), NewMemoryStore()
	primary.now, local.now = clock, clock

	before := NewGateway(primary, local, WithLogger(zaptest.NewLogger(t)), WithRetryInterval(time.Hour))
	ok, err := before.Save(ctx, "state", []byte(`"v1"`))
	require.NoError(t, err)
	require.True(t, ok)

	primary.setDown(true)
	ok, err = before.Save(ctx, "state", []byte(`"v2"`))
	require.NoError(t, err)
	require.False(t, ok, "outage write lands locally")
	primary.setDown(false)

	// restart: a fresh gateway trusts the primary again
	after := NewGateway(primary, local, WithLogger(zaptest.NewLogger(t)))
	data, err := after.Load(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, string(data))

	synced, err := primary.MemoryStore.Load(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, string(synced), "newer local copy is written back")

	ok, err = after.Save(ctx, "state", []byte(`"v3"`))
	require.NoError(t, err)
	require.True(t, ok)
	data, err = after.Load(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, `"v3"`, string(data), "stale local copy does not win")
}
