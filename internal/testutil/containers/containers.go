//go:build integration

// Package containers starts throwaway service containers for integration
// tests. It is gated behind the "integration" build tag so unit test
// builds never pull in Docker dependencies.
//
//	result := containers.StartRedis(t)
//	cfg := redis.Config{URI: result.ConnString}
package containers

import (
	"context"
	"testing"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultRedisImage is the image used by [StartRedis].
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult is a started Redis container and its redis:// URI.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts a Redis container without authentication and
// terminates it when the test finishes. The test fails immediately if
// the container cannot be started.
func StartRedis(t testing.TB) *RedisResult {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		t.Fatalf("containers: failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("containers: failed to terminate redis container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("containers: failed to get redis connection string: %v", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}
}
