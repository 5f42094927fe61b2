package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
)

func newTestGateway(roll float64) *DummyGateway {
	g := NewDummyGateway(zap.NewNop(), NewMemorySessionStore(), DummyConfig{DeclineRate: 0.1})
	g.roll = func() float64 { return roll }
	return g
}

func openSession(t *testing.T, g *DummyGateway) service.PaymentSession {
	t.Helper()
	s, err := g.OpenSession(context.Background(), service.SessionRequest{
		CartID:   "cart-1",
		Amount:   decimal.RequireFromString("59.97"),
		Currency: "usd",
	})
	require.NoError(t, err)
	return s
}

func TestDummyGateway_OpenSession(t *testing.T) {
	g := newTestGateway(0.5)
	s := openSession(t, g)

	assert.Regexp(t, `^cs_[0-9a-f]{16}$`, s.SessionID)
	assert.Regexp(t, `^pi_[0-9a-f]{32}$`, s.PaymentIntentID)
	assert.Equal(t, "/dummy/checkout/cart-1", s.RedirectURL)
	assert.Equal(t, "cart-1", s.CartID)
	assert.True(t, s.ExpiresAt.After(time.Now()))
}

func TestDummyGateway_CaptureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(0.5)
	s := openSession(t, g)

	first, err := g.Capture(ctx, s.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, service.CaptureSucceeded, first.Status)
	assert.NotEmpty(t, first.ReceiptURL)

	// даже если следующий бросок означал бы отказ, результат тот же
	g.roll = func() float64 { return 0 }
	second, err := g.Capture(ctx, s.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDummyGateway_Decline(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(0.05)
	s := openSession(t, g)

	res, err := g.Capture(ctx, s.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, service.CaptureFailed, res.Status)
	assert.Equal(t, ReasonCardDeclined, res.ErrorReason)
	assert.NotEmpty(t, res.ErrorMessage)

	require.ErrorIs(t, g.Refund(ctx, s.PaymentIntentID), ErrNotCaptured)
}

func TestDummyGateway_UnknownIntent(t *testing.T) {
	res, err := newTestGateway(0.5).Capture(context.Background(), "pi_unknown")
	require.NoError(t, err)
	assert.Equal(t, service.CaptureFailed, res.Status)
	assert.Equal(t, ReasonInvalidPaymentIntent, res.ErrorReason)
}

func TestDummyGateway_Refund(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(0.5)
	s := openSession(t, g)

	_, err := g.Capture(ctx, s.PaymentIntentID)
	require.NoError(t, err)
	require.NoError(t, g.Refund(ctx, s.PaymentIntentID))
	require.NoError(t, g.Refund(ctx, s.PaymentIntentID))

	require.ErrorIs(t, g.Refund(ctx, "pi_unknown"), ErrSessionNotFound)
}

func TestDummyGateway_LatencyHonoursContext(t *testing.T) {
	g := NewDummyGateway(zap.NewNop(), NewMemorySessionStore(), DummyConfig{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Capture(ctx, "pi_any")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMemorySessionStore_Expires(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	require.NoError(t, store.Save(ctx, Session{ID: "cs_1", PaymentIntentID: "pi_1"}, time.Minute))

	got, err := store.Get(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", got.ID)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = store.Get(ctx, "pi_1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
