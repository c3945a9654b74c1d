package keys

import (
	"context"
	"crypto/rsa"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/stricklysoft-fireauth/internal/testutil"
	"github.com/StricklySoft/stricklysoft-fireauth/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

type cacheFixture struct {
	server *testutil.KeyServer
	clock  *testutil.Clock
	cache  *Cache
	key    *rsa.PrivateKey
}

func newCacheFixture(t *testing.T, cacheControl string, mutate func(*Config)) *cacheFixture {
	t.Helper()
	key := testutil.RSAKey(t)
	server := testutil.NewKeyServer(t, map[string]string{
		fixtures.KeyID: testutil.LongLivedCertificatePEM(t, key),
	}, cacheControl)
	clock := testutil.NewClock(time.Now())

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.Clock = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	cache, err := NewCache(cfg)
	require.NoError(t, err)
	return &cacheFixture{server: server, clock: clock, cache: cache, key: key}
}

func TestNewCache_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		code   sserr.Code
	}{
		{"no url", func(c *Config) { c.URL = "" }, sserr.CodeValidationRequired},
		{"negative fallback", func(c *Config) { c.FallbackTTL = -time.Second }, sserr.CodeValidation},
		{"zero max", func(c *Config) { c.MaxTTL = 0 }, sserr.CodeValidationRange},
		{"fallback above max", func(c *Config) { c.FallbackTTL = 48 * time.Hour }, sserr.CodeValidationRange},
		{"negative miss interval", func(c *Config) { c.MissRefetchInterval = -1 }, sserr.CodeValidation},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -1 }, sserr.CodeValidation},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewCache(cfg)
			testutil.RequireErrorCode(t, err, tt.code)
		})
	}
}

func TestCache_FetchesLazily(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "public, max-age=600", nil)

	assert.Nil(t, f.cache.Snapshot())
	assert.Zero(t, f.server.Requests())

	entry, err := f.cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, fixtures.KeyID, entry.KeyID)
	assert.True(t, f.key.PublicKey.Equal(entry.PublicKey))
	assert.Equal(t, f.clock.Now(), entry.FetchedAt)
	assert.Equal(t, 1, f.server.Requests())
}

func TestCache_HonoursMaxAge(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "public, max-age=600, must-revalidate", nil)
	ctx := context.Background()

	_, err := f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)
	set := f.cache.Snapshot()
	require.NotNil(t, set)
	assert.Equal(t, set.FetchedAt.Add(600*time.Second), set.ExpiresAt)

	f.clock.Advance(599 * time.Second)
	_, err = f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.server.Requests(), "no refetch before max-age elapses")

	f.clock.Advance(time.Second)
	_, err = f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.server.Requests(), "exactly one refetch once max-age elapses")
	assert.NotSame(t, set, f.cache.Snapshot())
}

func TestCache_FallbackAndMaxTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cacheControl string
		want         time.Duration
	}{
		{name: "no header", cacheControl: "", want: DefaultFallbackTTL},
		{name: "no max-age", cacheControl: "public", want: DefaultFallbackTTL},
		{name: "malformed max-age", cacheControl: "max-age=soon", want: DefaultFallbackTTL},
		{name: "clamped", cacheControl: "max-age=999999", want: DefaultMaxTTL},
		{name: "no-cache", cacheControl: "no-cache", want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newCacheFixture(t, tt.cacheControl, nil)
			_, err := f.cache.Key(context.Background(), fixtures.KeyID)
			require.NoError(t, err)

			set := f.cache.Snapshot()
			assert.Equal(t, tt.want, set.ExpiresAt.Sub(set.FetchedAt))
		})
	}
}

func TestCache_NoCacheRefetchesEveryCall(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "no-cache, no-store", nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		entry, err := f.cache.Key(ctx, fixtures.KeyID)
		require.NoError(t, err)
		assert.True(t, entry.ValidAt(f.clock.Now()), "certificate window governs key validity")
		assert.Equal(t, i, f.server.Requests())
	}
}

func TestCache_UnknownKidRefetchesOnce(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", nil)
	ctx := context.Background()

	_, err := f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)
	require.Equal(t, 1, f.server.Requests())

	_, err = f.cache.Key(ctx, "unknown-kid")
	testutil.RequireErrorCode(t, err, sserr.CodeKeyNotFound)
	assert.True(t, sserr.IsKeyNotFound(err))
	assert.Equal(t, 2, f.server.Requests(), "a miss refetches exactly once")
}

func TestCache_UnknownKidOnColdCacheDoesNotFetchTwice(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", nil)

	_, err := f.cache.Key(context.Background(), "unknown-kid")
	testutil.RequireErrorCode(t, err, sserr.CodeKeyNotFound)
	assert.Equal(t, 1, f.server.Requests())
}

func TestCache_MissRefetchInterval(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", func(c *Config) {
		c.MissRefetchInterval = time.Minute
	})
	ctx := context.Background()

	_, err := f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)

	_, err = f.cache.Key(ctx, "unknown-kid")
	testutil.RequireErrorCode(t, err, sserr.CodeKeyNotFound)
	assert.Equal(t, 1, f.server.Requests(), "set younger than the interval is trusted")

	f.clock.Advance(time.Minute)
	_, err = f.cache.Key(ctx, "unknown-kid")
	testutil.RequireErrorCode(t, err, sserr.CodeKeyNotFound)
	assert.Equal(t, 2, f.server.Requests())
}

func TestCache_RotationReplacesWholeSet(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", nil)
	ctx := context.Background()

	_, err := f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)

	rotated := testutil.NewRSAKey(t)
	f.server.SetKeys(map[string]string{
		fixtures.RotatedKeyID: testutil.LongLivedCertificatePEM(t, rotated),
	})

	entry, err := f.cache.Key(ctx, fixtures.RotatedKeyID)
	require.NoError(t, err, "a kid unseen in the cached set forces a refetch")
	assert.True(t, rotated.PublicKey.Equal(entry.PublicKey))
	assert.Equal(t, 2, f.server.Requests())

	set := f.cache.Snapshot()
	assert.Len(t, set.Entries, 1)
	assert.NotContains(t, set.Entries, fixtures.KeyID, "old keys are not merged into the new set")
}

func TestCache_ConcurrentColdLookupsShareOneFetch(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", nil)
	release := f.server.Hold()

	const callers = 24
	var wg sync.WaitGroup
	errs := make([]error, callers)
	entries := make([]*Entry, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], errs[i] = f.cache.Key(context.Background(), fixtures.KeyID)
		}(i)
	}

	require.Eventually(t, func() bool { return f.server.Requests() == 1 }, 5*time.Second, time.Millisecond)
	release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, entries[0], entries[i])
	}
	assert.Equal(t, 1, f.server.Requests())
}

func TestCache_AbandonedWaitDoesNotCancelFetch(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=3600", nil)
	release := f.server.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Key(ctx, fixtures.KeyID)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.server.Requests() == 1 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned waiter did not return")
	}

	release()
	require.Eventually(t, func() bool { return f.cache.Snapshot() != nil }, 5*time.Second, time.Millisecond,
		"the shared fetch completes for later callers")

	_, err := f.cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.server.Requests())
}

func TestCache_FetchFailure(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=60", nil)
	ctx := context.Background()

	_, err := f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)

	f.server.SetStatus(http.StatusServiceUnavailable)
	f.clock.Advance(time.Minute)

	_, err = f.cache.Key(ctx, fixtures.KeyID)
	testutil.RequireErrorCode(t, err, sserr.CodeKeyFetch)
	assert.True(t, sserr.IsRetryable(err))
	assert.Equal(t, 2, f.server.Requests(), "no internal retries")

	f.server.SetStatus(http.StatusOK)
	_, err = f.cache.Key(ctx, fixtures.KeyID)
	require.NoError(t, err)
}

func TestCache_NoUsableKeys(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=60", nil)
	f.server.SetKeys(map[string]string{"broken": "not a pem"})

	_, err := f.cache.Key(context.Background(), "broken")
	testutil.RequireErrorCode(t, err, sserr.CodeKeyFetch)
	assert.Nil(t, f.cache.Snapshot())
}

func TestCache_SkipsMalformedEntries(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, "max-age=60", nil)
	f.server.SetKeys(map[string]string{
		fixtures.KeyID: testutil.LongLivedCertificatePEM(t, f.key),
		"broken":       "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n",
	})

	_, err := f.cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)
	assert.Len(t, f.cache.Snapshot().Entries, 1)
}

func TestCache_EntryValidity(t *testing.T) {
	t.Parallel()
	key := testutil.RSAKey(t)
	now := time.Now()
	notBefore, notAfter := now.Add(-time.Hour), now.Add(2*time.Hour)
	server := testutil.NewKeyServer(t, map[string]string{
		"cert": testutil.CertificatePEM(t, key, notBefore, notAfter),
		"bare": testutil.PublicKeyPEM(t, key),
	}, "max-age=600")

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.Clock = func() time.Time { return now }
	cache, err := NewCache(cfg)
	require.NoError(t, err)

	cert, err := cache.Key(context.Background(), "cert")
	require.NoError(t, err)
	assert.True(t, cert.NotBefore.Equal(notBefore.Truncate(time.Second)))
	assert.True(t, cert.ValidUntil.Equal(notAfter.Truncate(time.Second)))
	assert.True(t, cert.ValidAt(now))
	assert.False(t, cert.ValidAt(notBefore.Add(-time.Minute)))
	assert.True(t, cert.ValidAt(cert.ValidUntil), "upper bound is inclusive")
	assert.False(t, cert.ValidAt(notAfter.Add(time.Second)))

	bare, err := cache.Key(context.Background(), "bare")
	require.NoError(t, err)
	assert.True(t, bare.NotBefore.IsZero())
	assert.Equal(t, now.Add(600*time.Second), bare.ValidUntil)
}

func TestCache_RecordsFetchSpan(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newCacheFixture(t, "max-age=60", func(c *Config) { c.TracerProvider = tp })
	_, err := f.cache.Key(context.Background(), fixtures.KeyID)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "keys.Fetch", spans[0].Name)
}
