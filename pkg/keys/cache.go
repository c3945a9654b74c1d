// Package keys fetches and caches the rotating public keys that sign
// Firebase ID tokens.
//
// A [Cache] holds one key set at a time. The set is fetched on first
// use and again once the lifetime advertised by the endpoint's
// Cache-Control max-age has elapsed; a refetch replaces the whole set,
// never merging old and new entries. A kid that is missing from a
// cached set triggers exactly one refetch before [Cache.Key] reports
// KEYS_002. Concurrent fetches are coalesced and a caller that stops
// waiting does not cancel the shared fetch.
package keys

import (
	"context"
	"crypto"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fireauth/pkg/keys"

// Entry is one public key from the current set. Entries are immutable.
type Entry struct {
	KeyID     string
	PublicKey crypto.PublicKey

	// FetchedAt is when the set holding this key was fetched.
	FetchedAt time.Time

	// NotBefore is the certificate's start of validity, or zero for bare
	// public keys.
	NotBefore time.Time

	// ValidUntil is the certificate's NotAfter, or the set's expiry for
	// keys that carry no validity window of their own.
	ValidUntil time.Time
}

// ValidAt reports whether t falls inside the entry's validity window.
func (e *Entry) ValidAt(t time.Time) bool {
	if !e.NotBefore.IsZero() && t.Before(e.NotBefore) {
		return false
	}
	return !t.After(e.ValidUntil)
}

// Set is an immutable snapshot of one fetch.
type Set struct {
	Entries   map[string]*Entry
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Cache resolves key ids to public keys. It is safe for concurrent use.
type Cache struct {
	config Config
	source Source
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	set *Set

	group singleflight.Group
}

// NewCache validates cfg and returns an empty Cache. No fetch happens
// until the first [Cache.Key] call.
func NewCache(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source := cfg.Source
	if source == nil {
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{}
		}
		source = NewHTTPSource(cfg.URL, client)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Cache{
		config: cfg,
		source: source,
		tracer: tp.Tracer(tracerName),
		logger: logger,
		now:    now,
	}, nil
}

// Key returns the entry for kid, fetching the set if none is cached or
// the cached one has expired. If kid is absent from a set that was
// already cached, one refetch is attempted (subject to
// Config.MissRefetchInterval) before KEYS_002 is returned. Fetch
// failures return KEYS_001.
func (c *Cache) Key(ctx context.Context, kid string) (*Entry, error) {
	now := c.now()
	set := c.Snapshot()
	fetched := false

	if set == nil || !now.Before(set.ExpiresAt) {
		var err error
		if set, err = c.refresh(ctx, set, ""); err != nil {
			return nil, err
		}
		fetched = true
	}
	if e, ok := set.Entries[kid]; ok {
		return e, nil
	}

	if !fetched && now.Sub(set.FetchedAt) >= c.config.MissRefetchInterval {
		var err error
		if set, err = c.refresh(ctx, set, kid); err != nil {
			return nil, err
		}
		if e, ok := set.Entries[kid]; ok {
			return e, nil
		}
	}

	return nil, sserr.Newf(sserr.CodeKeyNotFound, "keys: no public key with kid %q", kid).
		WithDetail("kid", kid)
}

// Snapshot returns the current set, or nil before the first successful
// fetch. The set may have expired.
func (c *Cache) Snapshot() *Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// refresh joins or starts a fetch. seen is the set the caller found
// stale or incomplete; if another fetch has already replaced it with a
// fresh set, that set is returned without going to the network.
//
// missing is the kid that was absent from seen, or empty when seen
// expired. Miss refetches coalesce separately from expiry fetches and go
// to the origin of a [Refetcher] source.
func (c *Cache) refresh(ctx context.Context, seen *Set, missing string) (*Set, error) {
	key := "fetch"
	if missing != "" {
		key = "refetch"
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if cur := c.Snapshot(); cur != nil && cur != seen && c.now().Before(cur.ExpiresAt) {
			if _, ok := cur.Entries[missing]; missing == "" || ok {
				return cur, nil
			}
		}
		return c.fetch(context.WithoutCancel(ctx), missing != "")
	})

	select {
	case <-ctx.Done():
		return nil, sserr.FromContext(ctx.Err(), "keys: stopped waiting for key set fetch")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Set), nil
	}
}

func (c *Cache) fetch(ctx context.Context, miss bool) (set *Set, err error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	ctx, span := startSpan(ctx, c.tracer, "keys.Fetch")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()
	span.SetAttributes(attribute.Bool("keys.miss", miss))

	fetchDoc := c.source.Fetch
	if r, ok := c.source.(Refetcher); ok && miss {
		fetchDoc = r.Refetch
	}
	doc, err := fetchDoc(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "keys: key set fetch failed", "error", err)
		return nil, err
	}
	fetchedAt := c.now()

	parsed, skipped, err := parseDocument(doc.Body)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeyFetch, "keys: malformed key set document")
	}
	for kid, reason := range skipped {
		c.logger.WarnContext(ctx, "keys: skipping unusable key", "kid", kid, "error", reason)
	}
	if len(parsed) == 0 {
		return nil, sserr.New(sserr.CodeKeyFetch, "keys: key set contains no usable RSA keys")
	}

	lifetime := c.config.FallbackTTL
	if doc.HasMaxAge {
		lifetime = doc.MaxAge
	}
	lifetime = min(lifetime, c.config.MaxTTL)
	expiresAt := fetchedAt.Add(lifetime)

	entries := make(map[string]*Entry, len(parsed))
	for kid, pk := range parsed {
		validUntil := expiresAt
		if !pk.notAfter.IsZero() {
			validUntil = pk.notAfter
		}
		entries[kid] = &Entry{
			KeyID:      kid,
			PublicKey:  pk.key,
			FetchedAt:  fetchedAt,
			NotBefore:  pk.notBefore,
			ValidUntil: validUntil,
		}
	}
	set = &Set{Entries: entries, FetchedAt: fetchedAt, ExpiresAt: expiresAt}

	c.mu.Lock()
	c.set = set
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("keys.count", len(entries)),
		attribute.Int64("keys.lifetime_seconds", int64(lifetime/time.Second)),
	)
	c.logger.DebugContext(ctx, "keys: key set refreshed",
		"keys", len(entries),
		"expires_at", expiresAt,
	)
	return set, nil
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on span, if any.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
