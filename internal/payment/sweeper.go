package payment

import (
	"context"
	"fmt"
	"time"

	"ms-payments/internal/gateway"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/storage"
)

// Sweeper periodically reconciles payments stuck at pending. The Razorpay
// client confirmation verifies a signature without transitioning state, so a
// lost webhook would otherwise leave a paid-for order unpaid forever; the
// sweep asks the gateway directly and drives the reconciler with whatever
// terminal state it finds. Safe to run alongside webhooks: the reconciler's
// idempotence guard absorbs the overlap.
type Sweeper struct {
	store      storage.Store
	gateways   gateway.Registry
	reconciler *Reconciler
	interval   time.Duration
	minAge     time.Duration
	log        *logger.Logger
}

func NewSweeper(store storage.Store, gateways gateway.Registry, reconciler *Reconciler, interval, minAge time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		gateways:   gateways,
		reconciler: reconciler,
		interval:   interval,
		minAge:     minAge,
		log:        log,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("SWEEP", fmt.Sprintf("Pending sweep started (interval %s, min age %s)", s.interval, s.minAge))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("SWEEP", "Pending sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("SWEEP", fmt.Sprintf("Sweep failed: %v", err))
			}
		}
	}
}

// SweepOnce reconciles every pending payment older than the minimum age
// whose remote object already reached a terminal state. Per-payment errors
// are logged and skipped; the next sweep retries them.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.minAge)
	pending, err := s.store.ListPendingPaymentsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list pending payments: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	s.log.Info("SWEEP", fmt.Sprintf("Sweeping %d pending payments older than %s", len(pending), cutoff.Format(time.RFC3339)))

	for _, p := range pending {
		if err := s.sweepPayment(ctx, p); err != nil {
			s.log.Warn("SWEEP", fmt.Sprintf("Failed to sweep payment %s: %v", p.ID, err))
		}
	}
	return nil
}

func (s *Sweeper) sweepPayment(ctx context.Context, p *models.Payment) error {
	adapter := s.gateways.Lookup(p.Gateway)
	if adapter == nil {
		return fmt.Errorf("no adapter for gateway %q", p.Gateway)
	}

	gwCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	obj, err := adapter.GetPaymentObject(gwCtx, p.GatewayObjectID)
	if err != nil {
		return err
	}

	switch obj.State {
	case gateway.RemoteSucceeded:
		ref := obj.PaymentRef
		if ref == "" {
			ref = p.GatewayObjectID
		}
		return s.reconciler.ApplyOutcome(ctx, p.ID, p.OrderID, models.Succeeded(ref))
	case gateway.RemoteFailed:
		reason := obj.FailureReason
		if reason == "" {
			reason = "payment failed at gateway"
		}
		return s.reconciler.ApplyOutcome(ctx, p.ID, p.OrderID, models.Failed(reason))
	default:
		// Still pending remotely; leave it for a later sweep.
		return nil
	}
}
