package auth

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-fireauth/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"
)

// bufferLogger returns a JSON logger writing to the returned buffer.
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

// mockVerifier implements TokenVerifier and records the last token.
type mockVerifier struct {
	claims *idtoken.Claims
	err    error
	calls  atomic.Int64
	last   atomic.Value
}

func (m *mockVerifier) VerifyIDToken(_ context.Context, raw string) (*idtoken.Claims, error) {
	m.calls.Add(1)
	m.last.Store(raw)
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

// mockProvider implements TokenProvider.
type mockProvider struct {
	token string
	err   error
	calls atomic.Int64
}

func (m *mockProvider) AccessToken(context.Context) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

func newTestClaims() *idtoken.Claims {
	return &idtoken.Claims{
		Subject: fixtures.UserID,
		UID:     fixtures.UserID,
		Extra:   map[string]any{"email": fixtures.UserEmail},
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "bearer", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lowercase prefix", header: "bearer abc", want: "abc"},
		{name: "uppercase prefix", header: "BEARER abc", want: "abc"},
		{name: "trailing space", header: "Bearer abc ", want: "abc"},
		{name: "empty", header: "", want: ""},
		{name: "prefix only", header: "Bearer ", want: ""},
		{name: "basic", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "no space", header: "Bearerabc", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractBearerToken(tt.header))
		})
	}
}

func TestVerifierFunc(t *testing.T) {
	t.Parallel()
	want := newTestClaims()
	var got string
	v := VerifierFunc(func(_ context.Context, raw string) (*idtoken.Claims, error) {
		got = raw
		return want, nil
	})

	claims, err := v.VerifyIDToken(context.Background(), "raw-token")
	require.NoError(t, err)
	assert.Same(t, want, claims)
	assert.Equal(t, "raw-token", got)
}

func TestContextWithClaims_RoundTrip(t *testing.T) {
	t.Parallel()
	claims := newTestClaims()
	ctx := ContextWithClaims(context.Background(), claims)

	got, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, claims, got)
	assert.Same(t, claims, MustClaimsFromContext(ctx))
}

func TestClaimsFromContext_Empty(t *testing.T) {
	t.Parallel()

	got, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)

	got, ok = ClaimsFromContext(ContextWithClaims(context.Background(), nil))
	assert.False(t, ok, "nil claims are reported as absent")
	assert.Nil(t, got)
}

func TestMustClaimsFromContext_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		MustClaimsFromContext(context.Background())
	})
}

func TestNewOptions(t *testing.T) {
	t.Parallel()
	assert.Same(t, slog.Default(), newOptions(nil).logger)

	logger, _ := bufferLogger()
	assert.Same(t, logger, newOptions([]Option{WithLogger(logger)}).logger)
	assert.Same(t, slog.Default(), newOptions([]Option{WithLogger(nil)}).logger)
}
