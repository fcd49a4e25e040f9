package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryRemote struct {
	mu      sync.Mutex
	clock   *fakeClock
	values  map[string][]byte
	ttls    map[string]time.Duration
	setAt   map[string]time.Time
	failGet bool
}

func newMemoryRemote(clock *fakeClock) *memoryRemote {
	return &memoryRemote{
		clock:  clock,
		values: map[string][]byte{},
		ttls:   map[string]time.Duration{},
		setAt:  map[string]time.Time{},
	}
}

func (m *memoryRemote) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, 0, false, errors.New("connection refused")
	}
	v, ok := m.values[key]
	if !ok {
		return nil, 0, false, nil
	}
	ttl := m.ttls[key]
	if ttl == 0 {
		return v, 0, true, nil
	}
	remaining := ttl - m.clock.Now().Sub(m.setAt[key])
	if remaining <= 0 {
		delete(m.values, key)
		return nil, 0, false, nil
	}
	return v, remaining, true, nil
}

func (m *memoryRemote) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	m.setAt[key] = m.clock.Now()
	return nil
}

func (m *memoryRemote) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *memoryRemote) Close() error { return nil }

func newTestLayer(t *testing.T, clock *fakeClock, remote RemoteStore) *Layer {
	t.Helper()
	layer, err := New(Options{
		EmbeddingEntries: 4,
		ResponseEntries:  4,
		ModelEntries:     2,
		Remote:           remote,
		RemoteTTL:        time.Hour,
		Now:              clock.Now,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return layer
}

func TestNewValidatesSizes(t *testing.T) {
	t.Parallel()

	_, err := New(Options{EmbeddingEntries: 1, ResponseEntries: 0, ModelEntries: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestKeyIsDeterministicAndUnambiguous(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Key("gemini", "flash", "hello"), Key("gemini", "flash", "hello"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("x"), 64)
}

func TestTTLPerKind(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	layer := newTestLayer(t, clock, nil)
	ctx := context.Background()

	require.NoError(t, layer.Set(ctx, KindEmbedding, "e", []byte("vec"), time.Second))
	require.NoError(t, layer.Set(ctx, KindResponse, "r", []byte("text"), time.Minute))
	require.NoError(t, layer.Set(ctx, KindModels, "m", []byte("list"), time.Hour))

	clock.Advance(2 * time.Minute)
	_, ok := layer.Get(ctx, KindResponse, "r")
	assert.False(t, ok, "response expires after its ttl")
	_, ok = layer.Get(ctx, KindModels, "m")
	assert.True(t, ok, "model list lives for the fixed ttl, not the requested one")

	clock.Advance(4 * time.Minute)
	_, ok = layer.Get(ctx, KindModels, "m")
	assert.False(t, ok)

	clock.Advance(1000 * time.Hour)
	v, ok := layer.Get(ctx, KindEmbedding, "e")
	assert.True(t, ok, "embeddings never expire")
	assert.Equal(t, []byte("vec"), v)

	stats := layer.Stats()
	assert.Equal(t, 0, stats[KindResponse].Entries, "expired entry evicted on read")
}

func TestResponseWithoutTTLIsNotCached(t *testing.T) {
	t.Parallel()

	layer := newTestLayer(t, &fakeClock{now: time.Unix(0, 0)}, nil)
	require.NoError(t, layer.Set(context.Background(), KindResponse, "r", []byte("x"), 0))
	_, ok := layer.Get(context.Background(), KindResponse, "r")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	t.Parallel()

	layer := newTestLayer(t, &fakeClock{now: time.Unix(0, 0)}, nil)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, layer.Set(ctx, KindModels, k, []byte(k), 0))
	}
	_, ok := layer.Get(ctx, KindModels, "a")
	assert.False(t, ok)
	assert.Equal(t, 2, layer.Stats()[KindModels].Entries)
}

func TestGetOrLoadCallsOnce(t *testing.T) {
	t.Parallel()

	layer := newTestLayer(t, &fakeClock{now: time.Unix(0, 0)}, nil)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("answer"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := layer.GetOrLoad(ctx, KindResponse, "k", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	v, hit, err := layer.GetOrLoad(ctx, KindResponse, "k", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("answer"), v)
	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []byte("answer"), r)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	layer := newTestLayer(t, &fakeClock{now: time.Unix(0, 0)}, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := layer.GetOrLoad(ctx, KindResponse, "k", time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, hit, err := layer.GetOrLoad(ctx, KindResponse, "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("ok"), v)
}

func TestRemoteTier(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	remote := newMemoryRemote(clock)
	writer := newTestLayer(t, clock, remote)
	reader := newTestLayer(t, clock, remote)
	ctx := context.Background()

	require.NoError(t, writer.Set(ctx, KindEmbedding, "e", []byte("vec"), 0))
	assert.Equal(t, time.Hour, remote.ttls["embedding:e"], "entries without expiry use the remote ttl")

	v, ok := reader.Get(ctx, KindEmbedding, "e")
	require.True(t, ok)
	assert.Equal(t, []byte("vec"), v)
	assert.Equal(t, int64(1), reader.Stats()[KindEmbedding].Hits)

	remote.failGet = true
	_, ok = reader.Get(ctx, KindResponse, "missing")
	assert.False(t, ok, "remote failures degrade to a miss")
}

func TestRemoteTier_KeepsRemainingTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	remote := newMemoryRemote(clock)
	writer := newTestLayer(t, clock, remote)
	reader := newTestLayer(t, clock, remote)
	ctx := context.Background()

	require.NoError(t, writer.Set(ctx, KindResponse, "r", []byte("text"), 10*time.Second))
	assert.Equal(t, 10*time.Second, remote.ttls["response:r"])

	clock.Advance(6 * time.Second)
	v, ok := reader.Get(ctx, KindResponse, "r")
	require.True(t, ok)
	assert.Equal(t, []byte("text"), v)

	remote.Delete("response:r")
	_, ok = reader.Get(ctx, KindResponse, "r")
	assert.True(t, ok, "served from the local tier while the remote lifetime lasts")

	clock.Advance(5 * time.Second)
	_, ok = reader.Get(ctx, KindResponse, "r")
	assert.False(t, ok, "local copy expires with the remote entry")

	require.NoError(t, writer.Set(ctx, KindModels, "m", []byte("list"), 0))
	clock.Advance(200 * time.Second)
	_, ok = reader.Get(ctx, KindModels, "m")
	require.True(t, ok)
	remote.Delete("models:m")
	clock.Advance(101 * time.Second)
	_, ok = reader.Get(ctx, KindModels, "m")
	assert.False(t, ok, "model list lifetime is not restarted by a remote hit")
}

func TestRemoteRemaining(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NoExpiry, remoteRemaining(-1))
	assert.Equal(t, NoExpiry, remoteRemaining(-2))
	assert.Equal(t, 3*time.Second, remoteRemaining(3*time.Second))
}
