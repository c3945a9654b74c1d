package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fireauth/pkg/clients/redis"

// Cmdable is the subset of go-redis commands the client issues.
// *redis.Client satisfies it; tests substitute a fake.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithTracerProvider sets the provider used for command spans. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// Client issues traced Redis commands. It is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, connects, and pings the server. A failed ping
// closes the connection pool and returns UNAVAIL_001.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var ropts *redis.Options
	if cfg.URI != "" {
		var err error
		ropts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: failed to parse connection URI")
		}
	} else {
		ropts = &redis.Options{
			Addr:     cfg.addr(),
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	ropts.PoolSize = cfg.PoolSize
	ropts.MinIdleConns = cfg.MinIdleConns
	ropts.DialTimeout = cfg.DialTimeout
	ropts.ReadTimeout = cfg.ReadTimeout
	ropts.WriteTimeout = cfg.WriteTimeout
	// -1 disables go-redis retries; 0 would mean its default of 3.
	ropts.MaxRetries = -1

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailable, "redis: failed to connect to server")
	}

	c := &Client{
		cmdable: rdb,
		tracer:  otel.Tracer(tracerName),
		dbIndex: ropts.DB,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromClient wraps an existing Cmdable without connecting.
func NewFromClient(cmdable Cmdable, db int, opts ...Option) *Client {
	c := &Client{
		cmdable: cmdable,
		tracer:  otel.Tracer(tracerName),
		dbIndex: db,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored at key. found is false, with a nil
// error, when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	value, err = c.cmdable.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("db.redis.hit", false))
		finishSpan(span, nil)
		return "", false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return "", false, wrapError(err, "redis: get failed")
	}
	return value, true, nil
}

// Set stores value at key with the given expiration. Zero means no
// expiration.
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, expiration).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Health pings the server, bounding the ping with DefaultHealthTimeout
// when ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, operation, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a command failure. Deadlines are TIMEOUT_001;
// everything else means the server is unusable and is UNAVAIL_001.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeUnavailable, message)
}
