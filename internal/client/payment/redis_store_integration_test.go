//go:build integration

package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisSessionStore_Integration(t *testing.T) {
	ctx := context.Background()
	client := setupRedis(t)
	store := NewRedisSessionStore(client, zap.NewNop())

	created := time.Now().UTC().Truncate(time.Millisecond)
	s := Session{
		ID:              "cs_1",
		PaymentIntentID: "pi_1",
		CartID:          "cart-1",
		CustomerID:      42,
		Amount:          decimal.RequireFromString("59.97"),
		Currency:        "usd",
		Status:          SessionOpen,
		CreatedAt:       created,
	}
	require.NoError(t, store.Save(ctx, s, time.Minute))

	got, err := store.Get(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", got.ID)
	assert.Equal(t, int64(42), got.CustomerID)
	assert.True(t, s.Amount.Equal(got.Amount))
	assert.True(t, created.Equal(got.CreatedAt))
	assert.True(t, got.CapturedAt.IsZero())

	ttl, err := client.TTL(ctx, sessionKey("pi_1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = store.Get(ctx, "pi_missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// шлюз поверх redis
	g := NewDummyGateway(zap.NewNop(), store, DummyConfig{})
	res, err := g.Capture(ctx, "pi_1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ReceiptURL)

	stored, err := store.Get(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, SessionCaptured, stored.Status)
}
