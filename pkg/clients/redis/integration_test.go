//go:build integration

// Integration tests against a real Redis container. Run with:
//
//	go test -race -tags=integration ./pkg/clients/redis/...
package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-fireauth/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-fireauth/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

type RedisIntegrationSuite struct {
	suite.Suite

	ctx        context.Context
	connString string
	client     *redis.Client
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.connString = containers.StartRedis(s.T()).ConnString

	client, err := redis.NewClient(s.ctx, redis.Config{URI: s.connString})
	require.NoError(s.T(), err, "failed to create Redis client")
	s.client = client
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestHealth() {
	require.NoError(s.T(), s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestSetAndGet() {
	key := "test:set_get"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "hello", time.Minute))

	val, found, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.True(s.T(), found)
	assert.Equal(s.T(), "hello", val)
}

func (s *RedisIntegrationSuite) TestGet_Missing() {
	_, found, err := s.client.Get(s.ctx, "test:missing")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)
}

func (s *RedisIntegrationSuite) TestSet_Expires() {
	key := "test:expiry"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "short", 50*time.Millisecond))

	assert.Eventually(s.T(), func() bool {
		_, found, err := s.client.Get(s.ctx, key)
		return err == nil && !found
	}, 5*time.Second, 25*time.Millisecond)
}

func (s *RedisIntegrationSuite) TestNewClient_Unreachable() {
	_, err := redis.NewClient(s.ctx, redis.Config{URI: "redis://127.0.0.1:1/0", DialTimeout: 200 * time.Millisecond})
	require.Error(s.T(), err)
	assert.Equal(s.T(), sserr.CodeUnavailable, sserr.GetCode(err))
}

func (s *RedisIntegrationSuite) TestClosedClient() {
	client, err := redis.NewClient(s.ctx, redis.Config{URI: s.connString})
	require.NoError(s.T(), err)
	require.NoError(s.T(), client.Close())

	_, _, err = client.Get(s.ctx, "test:closed")
	require.Error(s.T(), err)
	assert.True(s.T(), sserr.IsRetryable(err))
}
