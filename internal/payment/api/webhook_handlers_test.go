package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-payments/internal/gateway"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

const (
	testStripeSecret   = "whsec_test_secret"
	testRazorpaySecret = "rzp_webhook_secret"
)

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) ApplyOutcome(ctx context.Context, paymentID, orderID string, outcome models.Outcome) error {
	args := m.Called(ctx, paymentID, orderID, outcome)
	return args.Error(0)
}

type mockDeadLetters struct {
	mock.Mock
}

func (m *mockDeadLetters) PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}

type mockRazorpayGateway struct {
	mock.Mock
}

func (m *mockRazorpayGateway) Name() models.Gateway {
	return models.GatewayRazorpay
}

func (m *mockRazorpayGateway) CreatePaymentObject(ctx context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*gateway.CreateResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRazorpayGateway) GetPaymentObject(ctx context.Context, gatewayObjectID string) (*gateway.PaymentObject, error) {
	args := m.Called(ctx, gatewayObjectID)
	if o := args.Get(0); o != nil {
		return o.(*gateway.PaymentObject), args.Error(1)
	}
	return nil, args.Error(1)
}

// memoryDedup stands in for the Redis-backed deduper.
type memoryDedup struct {
	seen map[string]bool
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: make(map[string]bool)}
}

func (d *memoryDedup) MarkSeen(_ context.Context, gw, eventID string) (bool, error) {
	key := gw + ":" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func newTestWebhookHandler(applier *mockApplier, razorpay *mockRazorpayGateway, dlq *mockDeadLetters) *WebhookHandler {
	h := &WebhookHandler{
		StripeWebhookSecret:   testStripeSecret,
		RazorpayWebhookSecret: testRazorpaySecret,
		Reconciler:            applier,
		Dedup:                 newMemoryDedup(),
		Logger:                logger.NewLogger(),
	}
	if razorpay != nil {
		h.Razorpay = razorpay
	}
	if dlq != nil {
		h.DeadLetters = dlq
	}
	return h
}

func stripeSignedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testStripeSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func stripeEventPayload(t *testing.T, eventID, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func razorpaySignedRequest(t *testing.T, payload []byte, eventID string) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testRazorpaySecret))
	mac.Write(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(payload))
	req.Header.Set("X-Razorpay-Signature", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-Razorpay-Event-Id", eventID)
	return req
}

func razorpayEventPayload(t *testing.T, eventType string, entity map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"event": eventType,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{"entity": entity},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestStripeWebhookSucceededEventDrivesReconciler(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_1", "payment_intent.succeeded", map[string]interface{}{
		"id":            "pi_123",
		"latest_charge": "ch_abc",
		"metadata": map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	})
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", models.Succeeded("ch_abc")).Return(nil)

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, stripeSignedRequest(t, payload))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	applier.AssertExpectations(t)
}

func TestStripeWebhookFailedEventDrivesReconciler(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_2", "payment_intent.payment_failed", map[string]interface{}{
		"id": "pi_123",
		"metadata": map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
		"last_payment_error": map[string]interface{}{"message": "card declined"},
	})
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", models.Failed("card declined")).Return(nil)

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, stripeSignedRequest(t, payload))

	assert.Equal(t, http.StatusOK, rr.Code)
	applier.AssertExpectations(t)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_3", "payment_intent.succeeded", map[string]interface{}{"id": "pi_123"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=12345,v1=deadbeef")

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStripeWebhookAcknowledgesUnknownEventType(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_4", "charge.refunded", map[string]interface{}{"id": "ch_abc"})

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, stripeSignedRequest(t, payload))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStripeWebhookDuplicateDeliveryIsAcknowledgedOnce(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_5", "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_123",
		"metadata": map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	})
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", mock.Anything).Return(nil).Once()

	first := httptest.NewRecorder()
	h.StripeWebhook(first, stripeSignedRequest(t, payload))
	second := httptest.NewRecorder()
	h.StripeWebhook(second, stripeSignedRequest(t, payload))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	applier.AssertNumberOfCalls(t, "ApplyOutcome", 1)
}

func TestStripeWebhookProcessingFailureIsParkedAndRetriable(t *testing.T) {
	applier := new(mockApplier)
	dlq := new(mockDeadLetters)
	h := newTestWebhookHandler(applier, nil, dlq)

	payload := stripeEventPayload(t, "evt_6", "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_123",
		"metadata": map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	})
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", mock.Anything).
		Return(models.NewError(models.CodeInternal, "store unavailable"))
	dlq.On("PublishDeadLetter", mock.Anything, mock.MatchedBy(func(dl models.DeadLetter) bool {
		return dl.Gateway == models.GatewayStripe && dl.EventID == "evt_6"
	})).Return(nil)

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, stripeSignedRequest(t, payload))

	// 500 so Stripe retries on its own schedule; the dead letter covers us
	// even if it stops.
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	dlq.AssertExpectations(t)
}

func TestStripeWebhookMissingMetadataIsBadRequest(t *testing.T) {
	applier := new(mockApplier)
	dlq := new(mockDeadLetters)
	h := newTestWebhookHandler(applier, nil, dlq)

	payload := stripeEventPayload(t, "evt_7", "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_123",
	})

	rr := httptest.NewRecorder()
	h.StripeWebhook(rr, stripeSignedRequest(t, payload))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	dlq.AssertNotCalled(t, "PublishDeadLetter", mock.Anything, mock.Anything)
}

func TestRazorpayWebhookAuthorizedEventDrivesReconciler(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "payment.authorized", map[string]interface{}{
		"id":       "pay_rzp456",
		"order_id": "order_rzp123",
		"status":   "captured",
	})
	rzp.On("GetPaymentObject", mock.Anything, "order_rzp123").Return(&gateway.PaymentObject{
		ID:    "order_rzp123",
		State: gateway.RemoteSucceeded,
		Metadata: map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	}, nil)
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", models.Succeeded("pay_rzp456")).Return(nil)

	rr := httptest.NewRecorder()
	h.RazorpayWebhook(rr, razorpaySignedRequest(t, payload, "rzp_evt_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	applier.AssertExpectations(t)
}

func TestRazorpayWebhookFailedEventDrivesReconciler(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "payment.failed", map[string]interface{}{
		"id":                "pay_rzp456",
		"order_id":          "order_rzp123",
		"status":            "failed",
		"error_code":        "BAD_REQUEST_ERROR",
		"error_description": "Payment declined by bank",
	})
	rzp.On("GetPaymentObject", mock.Anything, "order_rzp123").Return(&gateway.PaymentObject{
		ID: "order_rzp123",
		Metadata: map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	}, nil)
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", models.Failed("Payment declined by bank")).Return(nil)

	rr := httptest.NewRecorder()
	h.RazorpayWebhook(rr, razorpaySignedRequest(t, payload, "rzp_evt_2"))

	assert.Equal(t, http.StatusOK, rr.Code)
	applier.AssertExpectations(t)
}

func TestRazorpayWebhookRejectsBadSignature(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "payment.authorized", map[string]interface{}{
		"id":       "pay_rzp456",
		"order_id": "order_rzp123",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(payload))
	req.Header.Set("X-Razorpay-Signature", "not-a-valid-signature")

	rr := httptest.NewRecorder()
	h.RazorpayWebhook(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rzp.AssertNotCalled(t, "GetPaymentObject", mock.Anything, mock.Anything)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRazorpayWebhookAcknowledgesUnknownEventType(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "refund.created", map[string]interface{}{"id": "rfnd_1"})

	rr := httptest.NewRecorder()
	h.RazorpayWebhook(rr, razorpaySignedRequest(t, payload, "rzp_evt_3"))

	assert.Equal(t, http.StatusOK, rr.Code)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRazorpayWebhookCorrelationFailureIsParkedNotDropped(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	dlq := new(mockDeadLetters)
	h := newTestWebhookHandler(applier, rzp, dlq)

	payload := razorpayEventPayload(t, "payment.authorized", map[string]interface{}{
		"id":       "pay_rzp456",
		"order_id": "order_rzp123",
	})
	rzp.On("GetPaymentObject", mock.Anything, "order_rzp123").
		Return(nil, models.NewError(models.CodeGatewayError, "razorpay unavailable"))
	dlq.On("PublishDeadLetter", mock.Anything, mock.MatchedBy(func(dl models.DeadLetter) bool {
		return dl.Gateway == models.GatewayRazorpay && dl.EventID == "rzp_evt_4"
	})).Return(nil)

	rr := httptest.NewRecorder()
	h.RazorpayWebhook(rr, razorpaySignedRequest(t, payload, "rzp_evt_4"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	dlq.AssertExpectations(t)
}

func TestRazorpayWebhookDuplicateDeliveryIsAcknowledgedOnce(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "payment.authorized", map[string]interface{}{
		"id":       "pay_rzp456",
		"order_id": "order_rzp123",
	})
	rzp.On("GetPaymentObject", mock.Anything, "order_rzp123").Return(&gateway.PaymentObject{
		ID: "order_rzp123",
		Metadata: map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	}, nil).Once()
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", mock.Anything).Return(nil).Once()

	first := httptest.NewRecorder()
	h.RazorpayWebhook(first, razorpaySignedRequest(t, payload, "rzp_evt_5"))
	second := httptest.NewRecorder()
	h.RazorpayWebhook(second, razorpaySignedRequest(t, payload, "rzp_evt_5"))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	applier.AssertNumberOfCalls(t, "ApplyOutcome", 1)
}

func TestReplayDeadLetterRedrivesStripeEvent(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	payload := stripeEventPayload(t, "evt_8", "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_123",
		"metadata": map[string]string{
			"orderId":   "order-1",
			"paymentId": "pay-1",
		},
	})
	applier.On("ApplyOutcome", mock.Anything, "pay-1", "order-1", mock.Anything).Return(nil)

	err := h.ReplayDeadLetter(context.Background(), models.DeadLetter{
		Gateway:   models.GatewayStripe,
		EventID:   "evt_8",
		EventType: "payment_intent.succeeded",
		RawEvent:  payload,
	})

	require.NoError(t, err)
	applier.AssertExpectations(t)
}

func TestReplayDeadLetterReturnsRetryableErrors(t *testing.T) {
	applier := new(mockApplier)
	rzp := new(mockRazorpayGateway)
	h := newTestWebhookHandler(applier, rzp, nil)

	payload := razorpayEventPayload(t, "payment.authorized", map[string]interface{}{
		"id":       "pay_rzp456",
		"order_id": "order_rzp123",
	})
	rzp.On("GetPaymentObject", mock.Anything, "order_rzp123").
		Return(nil, models.NewError(models.CodeGatewayError, "still unavailable"))

	err := h.ReplayDeadLetter(context.Background(), models.DeadLetter{
		Gateway:  models.GatewayRazorpay,
		EventID:  "rzp_evt_6",
		RawEvent: payload,
	})

	require.Error(t, err)
}

func TestReplayDeadLetterSurvivesStripeEventWithoutData(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	// A re-parked record can decode into an event with no data object; the
	// replay must drop it instead of crashing the consumer.
	payload, err := json.Marshal(map[string]interface{}{
		"id":   "evt_10",
		"type": "payment_intent.succeeded",
	})
	require.NoError(t, err)

	rerr := h.ReplayDeadLetter(context.Background(), models.DeadLetter{
		Gateway:  models.GatewayStripe,
		EventID:  "evt_10",
		RawEvent: payload,
	})

	require.NoError(t, rerr)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReplayDeadLetterDropsPermanentFailures(t *testing.T) {
	applier := new(mockApplier)
	h := newTestWebhookHandler(applier, nil, nil)

	err := h.ReplayDeadLetter(context.Background(), models.DeadLetter{
		Gateway:  models.GatewayStripe,
		EventID:  "evt_9",
		RawEvent: []byte("this is not json"),
	})

	// Undecodable events are dropped, not re-parked forever.
	require.NoError(t, err)
	applier.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
