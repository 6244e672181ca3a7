package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryRevocations(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryRevocations()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, "jti-1", now.Add(time.Hour)))
	require.NoError(t, m.Revoke(ctx, "jti-old", now.Add(-time.Second)))

	revoked, err := m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = m.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = m.IsRevoked(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, revoked)

	now = now.Add(2 * time.Hour)
	require.NoError(t, m.Revoke(ctx, "jti-2", now.Add(time.Minute)))
	require.Equal(t, 1, m.Sweep())

	revoked, err = m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestMemoryRevocations_ConsumeOnce(t *testing.T) {
	t.Parallel()

	m := NewMemoryRevocations()
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Consume(ctx, "jti-1", until)
			if err != nil {
				t.Error(err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())

	revoked, err := m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	// Токен, отозванный через logout, тоже не обменивается.
	require.NoError(t, m.Revoke(ctx, "jti-2", until))
	ok, err := m.Consume(ctx, "jti-2", until)
	require.NoError(t, err)
	require.False(t, ok)
}

// startRedis поднимает redis:7-alpine и возвращает его URL.
// Без GO_TEST_INTEGRATION тест пропускается.
func startRedis(t *testing.T) string {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestIntegration_RedisRevocations(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	rdb, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRedisRevocations(rdb, "test:")

	require.NoError(t, r.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err := r.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	ttl, err := rdb.TTL(ctx, "test:rt:revoked:jti-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)

	// Уже истёкший токен не записывается.
	require.NoError(t, r.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, err = r.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	require.False(t, revoked)

	ok, err := r.Consume(ctx, "jti-3", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Consume(ctx, "jti-3", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "second consume of the same jti must lose")

	ok, err = r.Consume(ctx, "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "revoked jti cannot be consumed")
}

func TestConnect_BadURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "://nope")
	require.Error(t, err)
}
