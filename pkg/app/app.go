// Package app assembles the credential, access token issuer, public key
// cache and ID token verifier for one service account into a single
// client-owned value.
//
// Every App owns its caches. Two Apps never share a cached token or key
// set in process; processes can share the key set through Redis when
// [Config.SharedKeyCache] is set.
//
//	a, err := app.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	tok, err := a.AccessToken(ctx)
//	claims, err := a.VerifyIDToken(ctx, rawIDToken)
package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/StricklySoft/stricklysoft-fireauth/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/idtoken"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/keys"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/token"
)

// Option customizes [New].
type Option func(*options)

type options struct {
	account *credentials.ServiceAccount
	store   keys.Store
}

// WithServiceAccount supplies an already parsed credential. The
// credentials file and JSON settings of the Config must then be empty.
func WithServiceAccount(sa *credentials.ServiceAccount) Option {
	return func(o *options) {
		o.account = sa
	}
}

// WithKeyStore shares the key set through store instead of a Redis
// client built from Config.Redis. It enables the shared key cache.
func WithKeyStore(store keys.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// App is a Firebase service-account client. It is safe for concurrent
// use.
type App struct {
	id        string
	projectID string

	account    *credentials.ServiceAccount
	issuer     *token.Issuer
	selfSigned *token.SelfSignedSource
	cache      *keys.Cache
	verifier   *idtoken.Verifier

	// redis is non-nil only when New created the client.
	redis *redis.Client

	now    func() time.Time
	logger *slog.Logger
	closed atomic.Bool
}

// New validates cfg, loads the credential and builds every component.
//
// Errors:
//   - VAL_xxx if cfg is invalid or no credential source is set
//   - CRED_001 or CRED_002 if the credential cannot be loaded
//   - UNAVAIL_001 or TIMEOUT_001 if the shared key cache is enabled and
//     Redis cannot be reached
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	account, err := loadAccount(cfg, o.account)
	if err != nil {
		return nil, err
	}

	a := &App{
		id:        uuid.NewString(),
		projectID: cfg.ProjectID,
		account:   account,
		now:       cfg.Clock,
	}
	if a.projectID == "" {
		a.projectID = account.ProjectID()
	}
	if a.now == nil {
		a.now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger.With("fireauth_instance", a.id, "project_id", a.projectID)
	cfg.inherit(a.logger)

	a.issuer, err = token.NewIssuer(account, cfg.Token)
	if err != nil {
		return nil, err
	}
	a.selfSigned, err = token.NewSelfSignedSource(account, cfg.SelfSigned)
	if err != nil {
		return nil, err
	}

	keysCfg := cfg.Keys
	store := o.store
	if store == nil && cfg.SharedKeyCache {
		var redisOpts []redis.Option
		if cfg.TracerProvider != nil {
			redisOpts = append(redisOpts, redis.WithTracerProvider(cfg.TracerProvider))
		}
		a.redis, err = redis.NewClient(ctx, cfg.Redis, redisOpts...)
		if err != nil {
			return nil, err
		}
		store = a.redis
	}
	if store != nil {
		upstream := keysCfg.Source
		if upstream == nil {
			upstream = keys.NewHTTPSource(keysCfg.URL, keysCfg.HTTPClient)
		}
		keysCfg.Source = keys.NewRedisSource(store, upstream, keys.RedisSourceConfig{
			Key:         cfg.SharedKeyCacheKey,
			FallbackTTL: keysCfg.FallbackTTL,
			Clock:       keysCfg.Clock,
			Logger:      a.logger,
		})
	}

	if a.cache, err = keys.NewCache(keysCfg); err != nil {
		a.closeRedis()
		return nil, err
	}
	if a.verifier, err = idtoken.NewVerifier(a.cache, cfg.IDToken); err != nil {
		a.closeRedis()
		return nil, err
	}

	a.logger.InfoContext(ctx, "app: initialized",
		"client_email", account.ClientEmail(),
		"shared_key_cache", store != nil,
	)
	return a, nil
}

func loadAccount(cfg Config, injected *credentials.ServiceAccount) (*credentials.ServiceAccount, error) {
	switch {
	case injected != nil:
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			return nil, sserr.Validation("app: a service account was supplied together with a credential source")
		}
		return injected, nil
	case cfg.CredentialsFile != "":
		return credentials.LoadFile(cfg.CredentialsFile)
	case cfg.CredentialsJSON != "":
		return credentials.Parse([]byte(cfg.CredentialsJSON.Value()))
	default:
		return nil, sserr.New(sserr.CodeValidationRequired,
			"app: a credentials file, credentials JSON or service account is required")
	}
}

// ID returns the random identifier of this App, attached to its log
// records as fireauth_instance.
func (a *App) ID() string { return a.id }

// ProjectID returns the project ID tokens are verified against.
func (a *App) ProjectID() string { return a.projectID }

// ServiceAccount returns the loaded credential.
func (a *App) ServiceAccount() *credentials.ServiceAccount { return a.account }

// Issuer returns the access token issuer.
func (a *App) Issuer() *token.Issuer { return a.issuer }

// KeyCache returns the public key cache.
func (a *App) KeyCache() *keys.Cache { return a.cache }

// AccessToken returns an access token usable for at least the configured
// margin. See [token.Issuer.AccessToken].
func (a *App) AccessToken(ctx context.Context) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	return a.issuer.AccessToken(ctx)
}

// Token is like AccessToken but returns the cached token with its expiry.
func (a *App) Token(ctx context.Context) (*token.CachedToken, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	return a.issuer.Token(ctx)
}

// TokenSource adapts the App to [oauth2.TokenSource], bound to ctx. Its
// Token method fails with UNAVAIL_001 once the App is closed.
func (a *App) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &openSource{app: a, src: a.issuer.TokenSource(ctx)}
}

// SelfSignedToken returns a self-signed service-account JWT for APIs
// that accept one in place of an access token, such as Firestore. See
// [token.SelfSignedSource].
func (a *App) SelfSignedToken(ctx context.Context) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	return a.selfSigned.AccessToken(ctx)
}

// SelfSignedTokenSource is the [oauth2.TokenSource] form of
// SelfSignedToken.
func (a *App) SelfSignedTokenSource(ctx context.Context) oauth2.TokenSource {
	return &openSource{app: a, src: a.selfSigned.TokenSource(ctx)}
}

// openSource refuses tokens after the App is closed.
type openSource struct {
	app *App
	src oauth2.TokenSource
}

func (s *openSource) Token() (*oauth2.Token, error) {
	if err := s.app.checkOpen(); err != nil {
		return nil, err
	}
	return s.src.Token()
}

// VerifyIDToken verifies raw against the App's project at the current
// time. See [idtoken.Verifier.Verify] for the error codes.
func (a *App) VerifyIDToken(ctx context.Context, raw string) (*idtoken.Claims, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	return a.verifier.Verify(ctx, raw, a.projectID, a.now())
}

// Health reports UNAVAIL_001 after Close and, when New created a Redis
// client, the result of pinging it.
func (a *App) Health(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.redis != nil {
		return a.redis.Health(ctx)
	}
	return nil
}

// Close releases the Redis client New created, if any. Calls after Close
// fail with UNAVAIL_001. Close is idempotent.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.logger.Info("app: closed")
	return a.closeRedis()
}

func (a *App) closeRedis() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) checkOpen() error {
	if a.closed.Load() {
		return sserr.New(sserr.CodeUnavailable, "app: closed")
	}
	return nil
}
