package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tokenpay/internal/catalog"
	"tokenpay/internal/models"
	"tokenpay/internal/signature"
	"tokenpay/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMerchantID = "1001"
	testSecret     = "test-secret"
)

func newTestLifecycle(t *testing.T) (*OrderLifecycle, *store.MemoryStore, *signature.Codec) {
	t.Helper()
	s := store.NewMemoryStore()
	codec := signature.NewCodec(testSecret)
	calc := NewSubscriptionCalculator(s)
	lc := NewOrderLifecycle(s, catalog.Default(), codec, calc, LifecycleConfig{
		MerchantID:      testMerchantID,
		StrictSignature: true,
		AmountEpsilon:   decimal.RequireFromString("0.005"),
	})
	return lc, s, codec
}

func signedParams(codec *signature.Codec, order *models.Order, overrides map[string]string) map[string]string {
	params := map[string]string{
		"pid":          testMerchantID,
		"out_trade_no": order.OrderID,
		"trade_no":     "prov-tx-1",
		"trade_status": TradeStatusSuccess,
		"money":        order.Amount.String(),
		"type":         "alipay",
	}
	for k, v := range overrides {
		params[k] = v
	}
	params["sign"] = codec.Sign(params)
	params["sign_type"] = "MD5"
	return params
}

func TestCreateOrderPersistsPending(t *testing.T) {
	lc, s, _ := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("9.9")))
	assert.Nil(t, order.SubscriptionStart)
	assert.NotEmpty(t, order.OrderID)

	stored, err := s.GetOrderByID(ctx, order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	_, err := lc.CreateOrder(context.Background(), "u-1", "nope")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestCreateOrderComputesProvisionalWindow(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return now }

	order, err := lc.CreateOrder(context.Background(), "u-1", "sub_monthly")
	require.NoError(t, err)
	require.NotNil(t, order.SubscriptionStart)
	require.NotNil(t, order.SubscriptionEnd)
	assert.Equal(t, now, *order.SubscriptionStart)
	assert.Equal(t, now.AddDate(0, 1, 0), *order.SubscriptionEnd)
}

func TestOrderIDsAreUnique(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
		require.NoError(t, err)
		assert.False(t, seen[order.OrderID], "duplicate order id %s", order.OrderID)
		seen[order.OrderID] = true
	}
}

func TestApplyNotificationIdempotent(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, nil)

	const deliveries = 3
	accepted := 0
	for i := 0; i < deliveries; i++ {
		result, err := lc.ApplyNotification(ctx, params)
		require.NoError(t, err)
		assert.True(t, result.Ack())
		if result.Code == NotifyAccepted {
			accepted++
		} else {
			assert.Equal(t, NotifyReplayed, result.Code)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one delivery transitions the order")

	stored, err := s.GetOrderByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSuccess, stored.Status)
	assert.Equal(t, "prov-tx-1", stored.ProviderTradeID)
	assert.Equal(t, deliveries, stored.NotifyCount)
}

func TestApplyNotificationMissingFields(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	result, err := lc.ApplyNotification(context.Background(), map[string]string{
		"pid": testMerchantID,
	})
	require.NoError(t, err)
	assert.Equal(t, NotifyRejected, result.Code)
	assert.False(t, result.Ack())

	var missing *MissingFieldError
	assert.ErrorAs(t, result.Reject, &missing)
}

func TestApplyNotificationMerchantMismatch(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, map[string]string{"pid": "9999"})
	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyRejected, result.Code)
	assert.ErrorIs(t, result.Reject, ErrMerchantMismatch)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, 0, stored.NotifyCount)
}

func TestApplyNotificationBadSignature(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, nil)
	params["sign"] = "0123456789abcdef0123456789abcdef"

	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyRejected, result.Code)
	assert.ErrorIs(t, result.Reject, ErrBadSignature)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestApplyNotificationLenientSignatureMode(t *testing.T) {
	lc, _, codec := newTestLifecycle(t)
	lc.cfg.StrictSignature = false
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, nil)
	params["sign"] = "0123456789abcdef0123456789abcdef"

	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyAccepted, result.Code)
}

func TestApplyNotificationUnknownOrder(t *testing.T) {
	lc, _, codec := newTestLifecycle(t)

	ghost := &models.Order{OrderID: "no-such-order", Amount: decimal.NewFromInt(1)}
	result, err := lc.ApplyNotification(context.Background(), signedParams(codec, ghost, nil))
	require.NoError(t, err)
	assert.Equal(t, NotifyRejected, result.Code)
	assert.ErrorIs(t, result.Reject, ErrOrderNotFound)
}

func TestApplyNotificationAmountTamper(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	// Signed correctly but over a different amount than the stored order.
	params := signedParams(codec, order, map[string]string{"money": "0.1"})
	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyRejected, result.Code)
	assert.ErrorIs(t, result.Reject, ErrAmountMismatch)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestApplyNotificationAmountTrailingZeros(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	// "9.90" for a stored 9.9 is the same amount, not tampering.
	params := signedParams(codec, order, map[string]string{"money": "9.90"})
	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyAccepted, result.Code)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusSuccess, stored.Status)
}

func TestApplyNotificationFailedStatus(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, map[string]string{"trade_status": TradeStatusClosed})
	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyFailed, result.Code)
	assert.True(t, result.Ack())

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)

	// A success notification after the failure loses the CAS and is treated
	// as already processed; the order never un-fails.
	result, err = lc.ApplyNotification(ctx, signedParams(codec, order, nil))
	require.NoError(t, err)
	assert.Equal(t, NotifyReplayed, result.Code)

	stored, _ = s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
}

func TestApplyNotificationUnknownStatusAcked(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, map[string]string{"trade_status": "WAIT_BUYER_PAY"})
	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyIgnored, result.Code)
	assert.True(t, result.Ack(), "unknown statuses are acked so the provider stops retrying")

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, 1, stored.NotifyCount)
}

func TestApplyNotificationFieldAliases(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	// A provider variant using the alternate field names.
	params := map[string]string{
		"merchant_id":    testMerchantID,
		"order_no":       order.OrderID,
		"transaction_id": "prov-tx-2",
		"status":         TradeStatusSuccess,
		"amount":         order.Amount.String(),
	}
	params["sign"] = codec.Sign(params)

	result, err := lc.ApplyNotification(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, NotifyAccepted, result.Code)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusSuccess, stored.Status)
	assert.Equal(t, "prov-tx-2", stored.ProviderTradeID)
}

func TestConcurrentSuccessNotificationsSingleWinner(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	order, err := lc.CreateOrder(ctx, "u-1", "credits_small")
	require.NoError(t, err)

	params := signedParams(codec, order, nil)

	const deliveries = 8
	var wg sync.WaitGroup
	codes := make(chan NotifyCode, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := lc.ApplyNotification(ctx, params)
			if assert.NoError(t, err) {
				codes <- result.Code
			}
		}()
	}
	wg.Wait()
	close(codes)

	accepted := 0
	for code := range codes {
		assert.Contains(t, []NotifyCode{NotifyAccepted, NotifyReplayed}, code)
		if code == NotifyAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	assert.Equal(t, models.OrderStatusSuccess, stored.Status)
	assert.Equal(t, deliveries, stored.NotifyCount)
}

func TestSuccessRecomputesSubscriptionWindow(t *testing.T) {
	lc, s, codec := newTestLifecycle(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return created }

	order, err := lc.CreateOrder(ctx, "u-1", "sub_monthly")
	require.NoError(t, err)
	assert.Equal(t, created, *order.SubscriptionStart)

	// Another purchase completes before this order's webhook arrives,
	// extending the active chain past the provisional start.
	otherEnd := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateOrder(ctx, &models.Order{
		OrderID:         "o-other",
		UserID:          "u-1",
		ProductID:       "sub_monthly",
		Amount:          decimal.RequireFromString("19.9"),
		Status:          models.OrderStatusSuccess,
		SubscriptionEnd: &otherEnd,
	}))

	notified := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return notified }

	result, err := lc.ApplyNotification(ctx, signedParams(codec, order, nil))
	require.NoError(t, err)
	require.Equal(t, NotifyAccepted, result.Code)

	stored, _ := s.GetOrderByID(ctx, order.OrderID)
	require.NotNil(t, stored.SubscriptionStart)
	assert.Equal(t, otherEnd, *stored.SubscriptionStart, "authoritative window chains from the live order set")
	assert.Equal(t, otherEnd.AddDate(0, 1, 0), *stored.SubscriptionEnd)
}
