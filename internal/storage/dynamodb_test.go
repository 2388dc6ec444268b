package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-payments/internal/models"
)

func TestPaymentItemRoundTrip(t *testing.T) {
	completedAt := time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC)
	payment := &models.Payment{
		ID:              "pay-1",
		OrderID:         "order-1",
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		ServiceID:       "service-1",
		Gateway:         models.GatewayStripe,
		GatewayObjectID: "pi_123",
		Amount:          499.99,
		Currency:        "USD",
		Status:          models.StatusCompleted,
		PaymentDetails:  "ch_abc",
		CreatedAt:       completedAt.Add(-time.Hour),
		UpdatedAt:       completedAt,
		CompletedAt:     &completedAt,
	}

	got := fromPaymentItem(toPaymentItem(payment))

	assert.Equal(t, payment.ID, got.ID)
	assert.Equal(t, payment.Gateway, got.Gateway)
	assert.Equal(t, payment.Status, got.Status)
	assert.Equal(t, payment.Amount, got.Amount)
	assert.Equal(t, payment.PaymentDetails, got.PaymentDetails)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))
	assert.True(t, got.CreatedAt.Equal(payment.CreatedAt))
}

func TestPaymentItemWithoutCompletionTimestamp(t *testing.T) {
	payment := &models.Payment{
		ID:        "pay-1",
		OrderID:   "order-1",
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	got := fromPaymentItem(toPaymentItem(payment))

	assert.Nil(t, got.CompletedAt)
}

func TestTimeLayoutSortsLexicographically(t *testing.T) {
	earlier := time.Date(2025, 6, 1, 9, 59, 59, 999999999, time.UTC)
	later := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// The status index range key compares as a string, so the encoded form
	// must preserve chronological order.
	assert.Less(t, earlier.Format(timeLayout), later.Format(timeLayout))
}

func TestOrderItemRoundTrip(t *testing.T) {
	order := &models.Order{
		ID:           "order-1",
		BuyerID:      "buyer-1",
		SellerID:     "seller-1",
		IsPaid:       true,
		Status:       models.OrderStatusActive,
		PaymentError: "",
		UpdatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	got := fromOrderItem(toOrderItem(order))

	assert.Equal(t, order.ID, got.ID)
	assert.True(t, got.IsPaid)
	assert.Equal(t, models.OrderStatusActive, got.Status)
	assert.True(t, got.UpdatedAt.Equal(order.UpdatedAt))
}

func TestCancellationIndex(t *testing.T) {
	okCode := aws.String("None")
	failedCode := aws.String("ConditionalCheckFailed")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "payment condition failed",
			err: &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: failedCode},
					{Code: okCode},
				},
			},
			want: 0,
		},
		{
			name: "order condition failed",
			err: &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: okCode},
					{Code: failedCode},
				},
			},
			want: 1,
		},
		{
			name: "not a cancellation",
			err:  errors.New("throttled"),
			want: -1,
		},
		{
			name: "cancelled without conditional failure",
			err: &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("TransactionConflict")},
				},
			},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cancellationIndex(tt.err))
		})
	}
}
