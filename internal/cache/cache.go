package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/phrazzld/scry-pipeline/internal/redact"
)

// Kind identifies one of the cache tiers.
type Kind string

// Cache kinds.
const (
	KindEmbedding Kind = "embedding"
	KindResponse  Kind = "response"
	KindModels    Kind = "models"
)

// Kinds lists every tier.
var Kinds = []Kind{KindEmbedding, KindResponse, KindModels}

// NoExpiry marks an entry that lives until evicted by size.
const NoExpiry time.Duration = 0

// DefaultModelListTTL is the lifetime of a cached provider model list.
const DefaultModelListTTL = 300 * time.Second

// Entry is a cached value with its creation time and lifetime.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// RemoteStore is a shared second tier behind the in-process LRUs. Get
// returns the remaining lifetime of the value, or zero when it does not
// expire.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Options configures a Layer.
type Options struct {
	EmbeddingEntries int
	ResponseEntries  int
	ModelEntries     int
	ModelListTTL     time.Duration

	// Remote is optional. RemoteTTL bounds entries that never expire
	// in-process so the remote store does not grow without limit.
	Remote    RemoteStore
	RemoteTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// KindStats are the counters of one tier.
type KindStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Layer is the process-wide cache. It is safe for concurrent use.
type Layer struct {
	tiers     map[Kind]*lru.Cache[string, Entry]
	stats     map[Kind]*counters
	modelTTL  time.Duration
	remote    RemoteStore
	remoteTTL time.Duration
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Layer with the given tier sizes.
func New(opts Options, logger *slog.Logger) (*Layer, error) {
	if opts.EmbeddingEntries <= 0 || opts.ResponseEntries <= 0 || opts.ModelEntries <= 0 {
		return nil, fmt.Errorf("%w: tier sizes must be positive", ErrInvalidOptions)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ModelListTTL <= 0 {
		opts.ModelListTTL = DefaultModelListTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Layer{
		tiers:     make(map[Kind]*lru.Cache[string, Entry], len(Kinds)),
		stats:     make(map[Kind]*counters, len(Kinds)),
		modelTTL:  opts.ModelListTTL,
		remote:    opts.Remote,
		remoteTTL: opts.RemoteTTL,
		now:       opts.Now,
		logger:    logger.With("component", "cache_layer"),
	}
	sizes := map[Kind]int{
		KindEmbedding: opts.EmbeddingEntries,
		KindResponse:  opts.ResponseEntries,
		KindModels:    opts.ModelEntries,
	}
	for kind, size := range sizes {
		tier, err := lru.New[string, Entry](size)
		if err != nil {
			return nil, fmt.Errorf("%w: %s tier: %v", ErrInvalidOptions, kind, err)
		}
		l.tiers[kind] = tier
		l.stats[kind] = &counters{}
	}
	return l, nil
}

// Key derives a deterministic cache key from its parts. Parts are length
// prefixed so ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TTL returns the lifetime an entry of kind gets when stored with the
// requested ttl. Embeddings never expire and model lists use the fixed
// model list TTL; responses keep the requested ttl.
func (l *Layer) TTL(kind Kind, requested time.Duration) time.Duration {
	switch kind {
	case KindEmbedding:
		return NoExpiry
	case KindModels:
		return l.modelTTL
	default:
		return requested
	}
}

// Get returns the cached value for key, evicting it if expired.
func (l *Layer) Get(ctx context.Context, kind Kind, key string) ([]byte, bool) {
	tier, ok := l.tiers[kind]
	if !ok {
		return nil, false
	}
	stats := l.stats[kind]

	if e, ok := tier.Get(key); ok {
		if !e.Expired(l.now()) {
			stats.hits.Add(1)
			return e.Value, true
		}
		tier.Remove(key)
	}

	if l.remote != nil {
		value, remaining, found, err := l.remote.Get(ctx, remoteKey(kind, key))
		if err != nil {
			l.logger.WarnContext(ctx, "remote cache read failed", "kind", kind, "error", redact.Error(err))
		} else if found {
			if ttl, keep := l.remainingTTL(kind, remaining); keep {
				tier.Add(key, Entry{Key: key, Value: value, CreatedAt: l.now(), TTL: ttl})
			}
			stats.hits.Add(1)
			return value, true
		}
	}

	stats.misses.Add(1)
	return nil, false
}

// remainingTTL is the in-process lifetime of a value read from the remote
// tier with remaining lifetime left. Responses and model lists never
// outlive the remote entry; a response without a remote expiry is served
// but not kept.
func (l *Layer) remainingTTL(kind Kind, remaining time.Duration) (time.Duration, bool) {
	switch kind {
	case KindEmbedding:
		return NoExpiry, true
	case KindModels:
		if remaining > 0 && remaining < l.modelTTL {
			return remaining, true
		}
		return l.modelTTL, true
	default:
		return remaining, remaining > 0
	}
}

// Set stores value under key. A response stored with a non-positive ttl is
// not cached.
func (l *Layer) Set(ctx context.Context, kind Kind, key string, value []byte, ttl time.Duration) error {
	tier, ok := l.tiers[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	ttl = l.TTL(kind, ttl)
	if kind == KindResponse && ttl <= 0 {
		return nil
	}

	tier.Add(key, Entry{Key: key, Value: value, CreatedAt: l.now(), TTL: ttl})

	if l.remote != nil {
		remoteTTL := ttl
		if remoteTTL == NoExpiry {
			remoteTTL = l.remoteTTL
		}
		if err := l.remote.Set(ctx, remoteKey(kind, key), value, remoteTTL); err != nil {
			l.logger.WarnContext(ctx, "remote cache write failed", "kind", kind, "error", redact.Error(err))
		}
	}
	return nil
}

// GetOrLoad returns the cached value for key or calls load once, even when
// several goroutines ask for the same key at the same time. The loaded value
// is stored before it is returned; load errors are not cached. The boolean
// reports whether the value came from the cache.
func (l *Layer) GetOrLoad(
	ctx context.Context,
	kind Kind,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) ([]byte, error),
) ([]byte, bool, error) {
	if v, ok := l.Get(ctx, kind, key); ok {
		return v, true, nil
	}

	loaded := false
	v, err, _ := l.group.Do(string(kind)+":"+key, func() (interface{}, error) {
		if v, ok := l.peek(kind, key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		loaded = true
		if err := l.Set(ctx, kind, key, v, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), !loaded, nil
}

// peek reads the in-process tier without touching stats or recency.
func (l *Layer) peek(kind Kind, key string) ([]byte, bool) {
	e, ok := l.tiers[kind].Peek(key)
	if !ok || e.Expired(l.now()) {
		return nil, false
	}
	return e.Value, true
}

// Stats returns a snapshot of the per-tier counters.
func (l *Layer) Stats() map[Kind]KindStats {
	out := make(map[Kind]KindStats, len(l.tiers))
	for kind, tier := range l.tiers {
		c := l.stats[kind]
		out[kind] = KindStats{
			Hits:    c.hits.Load(),
			Misses:  c.misses.Load(),
			Entries: tier.Len(),
		}
	}
	return out
}

// Close purges every tier and closes the remote store.
func (l *Layer) Close() error {
	for _, tier := range l.tiers {
		tier.Purge()
	}
	if l.remote != nil {
		return l.remote.Close()
	}
	return nil
}

func remoteKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}
