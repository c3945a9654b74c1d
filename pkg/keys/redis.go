package keys

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultRedisKey is the Redis key under which a [RedisSource] shares
// the key-set document.
const DefaultRedisKey = "fireauth:keys:securetoken"

// Store is the shared document store used by [RedisSource].
// *redis.Client from pkg/clients/redis satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// RedisSourceConfig configures a [RedisSource].
type RedisSourceConfig struct {
	// Key is the Redis key. Defaults to DefaultRedisKey.
	Key string

	// FallbackTTL is how long a document without an advertised lifetime
	// is shared. Defaults to DefaultFallbackTTL.
	FallbackTTL time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// sharedDocument is the stored form of a Document. ExpiresAt is absolute
// so every reader derives the same remaining lifetime.
type sharedDocument struct {
	Body      []byte    `json:"body"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisSource lets several processes share one upstream key-set fetch.
// A document found in the store is served with its remaining lifetime;
// otherwise the upstream source is fetched and the result is stored for
// the lifetime the upstream advertised. Refetch always goes upstream.
//
// The store is an optimisation only. Any store failure is logged and the
// upstream is used directly, so an unavailable Redis never fails a key
// lookup that the upstream could have served.
type RedisSource struct {
	store       Store
	upstream    Source
	key         string
	fallbackTTL time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewRedisSource wraps upstream with a shared store.
func NewRedisSource(store Store, upstream Source, cfg RedisSourceConfig) *RedisSource {
	s := &RedisSource{
		store:       store,
		upstream:    upstream,
		key:         cfg.Key,
		fallbackTTL: cfg.FallbackTTL,
		now:         cfg.Clock,
		logger:      cfg.Logger,
	}
	if s.key == "" {
		s.key = DefaultRedisKey
	}
	if s.fallbackTTL <= 0 {
		s.fallbackTTL = DefaultFallbackTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Fetch implements Source.
func (s *RedisSource) Fetch(ctx context.Context) (*Document, error) {
	if doc, ok := s.load(ctx); ok {
		return doc, nil
	}

	doc, err := s.upstream.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.share(ctx, doc)
	return doc, nil
}

// Refetch implements [Refetcher]. It skips the shared copy, fetches the
// upstream and replaces the shared copy with the result.
func (s *RedisSource) Refetch(ctx context.Context) (*Document, error) {
	doc, err := s.upstream.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.share(ctx, doc)
	return doc, nil
}

// load returns the shared document if one exists and has not expired.
func (s *RedisSource) load(ctx context.Context) (*Document, bool) {
	raw, found, err := s.store.Get(ctx, s.key)
	if err != nil {
		s.logger.WarnContext(ctx, "keys: shared key set unavailable, using upstream",
			"key", s.key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var shared sharedDocument
	if err := json.Unmarshal([]byte(raw), &shared); err != nil {
		s.logger.WarnContext(ctx, "keys: ignoring malformed shared key set", "key", s.key, "error", err)
		return nil, false
	}
	remaining := shared.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil, false
	}
	return &Document{Body: shared.Body, MaxAge: remaining, HasMaxAge: true}, true
}

// share stores doc for its advertised lifetime. Documents that may not be
// cached, or that hold no usable key, are not shared.
func (s *RedisSource) share(ctx context.Context, doc *Document) {
	ttl := s.fallbackTTL
	if doc.HasMaxAge {
		ttl = doc.MaxAge
	}
	if ttl <= 0 {
		return
	}
	if parsed, _, err := parseDocument(doc.Body); err != nil || len(parsed) == 0 {
		return
	}

	value, err := json.Marshal(sharedDocument{Body: doc.Body, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, s.key, string(value), ttl); err != nil {
		s.logger.WarnContext(ctx, "keys: failed to share key set", "key", s.key, "error", err)
	}
}
