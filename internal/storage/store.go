package storage

import (
	"context"
	"errors"
	"time"

	"ms-payments/internal/models"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrOrderNotFound   = errors.New("order not found")
	// ErrPaymentAlreadyFinal means the payment left pending before this
	// write landed; callers treat it as an idempotent no-op.
	ErrPaymentAlreadyFinal = errors.New("payment already in a terminal status")
	// ErrOrderAlreadyPaid means the guarded order write lost to a competing
	// successful attempt.
	ErrOrderAlreadyPaid = errors.New("order already paid")
)

// OutcomeWrite is the post-state the reconciler wants durably applied. The
// payment write always carries a status=pending condition; the order write,
// when present, can additionally require the order to still be unpaid.
type OutcomeWrite struct {
	Payment            models.Payment
	Order              *models.Order
	RequireOrderUnpaid bool
}

// Store is the document-store surface the payment core consumes: per-key
// get/set with document-level atomicity, plus one cross-document
// transactional write for terminal outcomes.
type Store interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error)
	ListPendingPaymentsBefore(ctx context.Context, cutoff time.Time) ([]*models.Payment, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)

	// ApplyOutcome writes payment and order together, all or nothing.
	ApplyOutcome(ctx context.Context, w OutcomeWrite) error
}
