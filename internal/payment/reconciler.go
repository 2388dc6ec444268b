package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/storage"
)

// EventPublisher streams terminal payment state changes. Nil-able: event
// publishing is best effort and never blocks reconciliation.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, payment *models.Payment) error
}

// Reconciler is the single mutation point for Payment and Order state. Both
// completion signals (webhooks and the pending sweep) converge here;
// concurrent and duplicate deliveries for the same payment are expected.
//
// Idempotence is enforced twice: a fast-path status check on the read, and
// the store's conditional transaction underneath it, so a duplicate that
// races past the read still cannot re-apply timestamps or details.
type Reconciler struct {
	store  storage.Store
	events EventPublisher
	log    *logger.Logger
}

func NewReconciler(store storage.Store, events EventPublisher, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, events: events, log: log}
}

// ApplyOutcome applies a terminal outcome to the payment and its order.
// Already-terminal payments are skipped without mutation. A failed attempt
// never unsets an order another attempt already paid.
func (r *Reconciler) ApplyOutcome(ctx context.Context, paymentID, orderID string, outcome models.Outcome) error {
	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return models.NewError(models.CodeNotFound, fmt.Sprintf("payment %s not found", paymentID))
		}
		return models.WrapError(models.CodeInternal, "failed to load payment", err)
	}
	if payment.OrderID != orderID {
		return models.NewError(models.CodeInvalidArgument, fmt.Sprintf("payment %s does not belong to order %s", paymentID, orderID))
	}

	if payment.Status.Terminal() {
		r.log.Info("RECONCILE", fmt.Sprintf("Payment %s already %s, skipping duplicate outcome", paymentID, payment.Status))
		return nil
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return models.NewError(models.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		return models.WrapError(models.CodeInternal, "failed to load order", err)
	}

	now := time.Now().UTC()
	write := storage.OutcomeWrite{Payment: *payment}
	write.Payment.UpdatedAt = now

	switch outcome.Kind {
	case models.OutcomeSucceeded:
		write.Payment.Status = models.StatusCompleted
		write.Payment.PaymentDetails = outcome.GatewayPaymentRef
		write.Payment.CompletedAt = &now

		paid := *order
		paid.IsPaid = true
		paid.Status = models.OrderStatusActive
		paid.PaymentError = ""
		paid.UpdatedAt = now
		write.Order = &paid

	case models.OutcomeFailed:
		write.Payment.Status = models.StatusFailed
		write.Payment.Error = outcome.Reason

		// A stale failed attempt must not corrupt an order some other
		// attempt already paid.
		if !order.IsPaid {
			failed := *order
			failed.PaymentError = outcome.Reason
			failed.UpdatedAt = now
			write.Order = &failed
			write.RequireOrderUnpaid = true
		}

	default:
		return models.NewError(models.CodeInternal, fmt.Sprintf("unknown outcome kind %q", outcome.Kind))
	}

	err = r.store.ApplyOutcome(ctx, write)
	if errors.Is(err, storage.ErrOrderAlreadyPaid) && outcome.Kind == models.OutcomeFailed {
		// Lost the unpaid guard to a competing success between our read and
		// the write; record the failed attempt without touching the order.
		write.Order = nil
		write.RequireOrderUnpaid = false
		err = r.store.ApplyOutcome(ctx, write)
	}
	if errors.Is(err, storage.ErrPaymentAlreadyFinal) {
		r.log.Info("RECONCILE", fmt.Sprintf("Payment %s reached a terminal status concurrently, skipping", paymentID))
		return nil
	}
	if err != nil {
		return models.WrapError(models.CodeInternal, "failed to apply payment outcome", err)
	}

	r.log.Info("RECONCILE", fmt.Sprintf("Payment %s -> %s (order %s, paid=%t)",
		paymentID, write.Payment.Status, orderID, write.Order != nil && write.Order.IsPaid))

	if r.events != nil {
		if err := r.events.PublishPaymentEvent(ctx, &write.Payment); err != nil {
			r.log.Warn("RECONCILE", fmt.Sprintf("Failed to publish payment event for %s: %v", paymentID, err))
		}
	}
	return nil
}
