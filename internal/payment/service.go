package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/razorpay/razorpay-go/utils"

	"ms-payments/internal/gateway"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/storage"
)

// gatewayCallTimeout bounds every outbound call to a payment provider.
const gatewayCallTimeout = 15 * time.Second

// Service owns payment initialization and the two client confirmation
// variants. It never transitions payment or order state: money-moving writes
// are driven exclusively through the Reconciler by authenticated webhooks
// and the pending sweep, because client-supplied success signals cannot be
// trusted.
type Service struct {
	store             storage.Store
	gateways          gateway.Registry
	razorpayKeySecret string
	log               *logger.Logger
}

func NewService(store storage.Store, gateways gateway.Registry, razorpayKeySecret string, log *logger.Logger) *Service {
	return &Service{
		store:             store,
		gateways:          gateways,
		razorpayKeySecret: razorpayKeySecret,
		log:               log,
	}
}

// InitializePayment validates the request, creates the remote payment object
// and persists a pending Payment. Exactly one payment write and one outbound
// gateway call; validation failures happen before any network traffic.
func (s *Service) InitializePayment(ctx context.Context, callerID string, req models.InitializePaymentRequest) (*models.InitializePaymentResponse, error) {
	if callerID == "" {
		return nil, models.NewError(models.CodeUnauthenticated, "caller identity is required")
	}
	if err := validateInitializeRequest(req); err != nil {
		return nil, err
	}

	adapter := s.gateways.Lookup(req.Gateway)
	if adapter == nil {
		return nil, models.NewError(models.CodeInvalidArgument, fmt.Sprintf("unsupported gateway %q", req.Gateway))
	}

	// The buyer on the payment must be the authenticated caller; anyone
	// else initializing a payment on their behalf is rejected up front.
	if req.BuyerID != callerID {
		return nil, models.NewError(models.CodeInvalidArgument, "buyer_id must match the authenticated caller")
	}

	paymentID := uuid.NewString()

	gwCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	result, err := adapter.CreatePaymentObject(gwCtx, gateway.CreateRequest{
		PaymentID: paymentID,
		OrderID:   req.OrderID,
		BuyerID:   req.BuyerID,
		SellerID:  req.SellerID,
		ServiceID: req.ServiceID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &models.Payment{
		ID:              paymentID,
		OrderID:         req.OrderID,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		ServiceID:       req.ServiceID,
		Gateway:         req.Gateway,
		GatewayObjectID: result.GatewayObjectID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Failed to persist payment %s after gateway call: %v", paymentID, err))
		return nil, models.WrapError(models.CodeInternal, "failed to persist payment", err)
	}

	s.log.Info("PAYMENT", fmt.Sprintf("Initialized payment %s for order %s via %s (%s %s)",
		paymentID, req.OrderID, req.Gateway, req.Currency, fmt.Sprintf("%.2f", req.Amount)))

	return &models.InitializePaymentResponse{
		PaymentID:   paymentID,
		GatewayData: result.ClientData,
	}, nil
}

// VerifyRazorpayPayment checks the checkout signature the buyer's client
// received from Razorpay. A valid signature proves the payment completed at
// the gateway, but deliberately performs no state transition: durable
// reconciliation is left to the webhook (and the pending sweep).
func (s *Service) VerifyRazorpayPayment(ctx context.Context, callerID string, req models.VerifyRazorpayPaymentRequest) error {
	if callerID == "" {
		return models.NewError(models.CodeUnauthenticated, "caller identity is required")
	}
	if req.PaymentID == "" || req.OrderID == "" || req.RemotePaymentID == "" || req.Signature == "" {
		return models.NewError(models.CodeInvalidArgument, "payment_id, order_id, razorpay_payment_id and razorpay_signature are required")
	}

	payment, err := s.loadPayment(ctx, req.PaymentID, req.OrderID)
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"razorpay_order_id":   payment.GatewayObjectID,
		"razorpay_payment_id": req.RemotePaymentID,
	}
	if !utils.VerifyPaymentSignature(params, req.Signature, s.razorpayKeySecret) {
		s.log.Warn("PAYMENT", fmt.Sprintf("Razorpay signature mismatch for payment %s", req.PaymentID))
		return models.NewError(models.CodeInvalidArgument, "razorpay signature verification failed")
	}

	s.log.Info("PAYMENT", fmt.Sprintf("Razorpay signature verified for payment %s, awaiting webhook reconciliation", req.PaymentID))
	return nil
}

// CompleteStripePayment confirms a Stripe intent the buyer's client reports
// as finished. The intent must have succeeded at Stripe and its embedded
// correlation metadata must name exactly this payment and order, so a valid
// but unrelated intent id cannot be substituted. No state transition here
// either; the webhook drives the reconciler.
func (s *Service) CompleteStripePayment(ctx context.Context, callerID string, req models.CompleteStripePaymentRequest) error {
	if callerID == "" {
		return models.NewError(models.CodeUnauthenticated, "caller identity is required")
	}
	if req.PaymentID == "" || req.OrderID == "" || req.RemoteIntentID == "" {
		return models.NewError(models.CodeInvalidArgument, "payment_id, order_id and payment_intent_id are required")
	}

	if _, err := s.loadPayment(ctx, req.PaymentID, req.OrderID); err != nil {
		return err
	}

	adapter := s.gateways.Lookup(models.GatewayStripe)
	if adapter == nil {
		return models.NewError(models.CodeInternal, "stripe gateway is not configured")
	}

	gwCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	obj, err := adapter.GetPaymentObject(gwCtx, req.RemoteIntentID)
	if err != nil {
		return err
	}

	if obj.State != gateway.RemoteSucceeded {
		return models.NewError(models.CodeFailedPrecondition, "payment intent has not succeeded")
	}
	if obj.Metadata[gateway.MetaOrderID] != req.OrderID || obj.Metadata[gateway.MetaPaymentID] != req.PaymentID {
		s.log.Warn("PAYMENT", fmt.Sprintf("Stripe intent %s metadata does not match payment %s", req.RemoteIntentID, req.PaymentID))
		return models.NewError(models.CodeInvalidArgument, "payment intent does not belong to this payment")
	}

	s.log.Info("PAYMENT", fmt.Sprintf("Stripe intent %s confirmed for payment %s, awaiting webhook reconciliation", req.RemoteIntentID, req.PaymentID))
	return nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return nil, models.NewError(models.CodeNotFound, "payment not found")
		}
		return nil, models.WrapError(models.CodeInternal, "failed to load payment", err)
	}
	return payment, nil
}

// ListPaymentsByOrder returns every attempt recorded against an order,
// including failed ones; payments are never deleted.
func (s *Service) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error) {
	payments, err := s.store.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, models.WrapError(models.CodeInternal, "failed to list payments", err)
	}
	return payments, nil
}

func (s *Service) loadPayment(ctx context.Context, paymentID, orderID string) (*models.Payment, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.OrderID != orderID {
		return nil, models.NewError(models.CodeInvalidArgument, "payment does not belong to this order")
	}
	return payment, nil
}

func validateInitializeRequest(req models.InitializePaymentRequest) error {
	missing := ""
	switch {
	case req.OrderID == "":
		missing = "order_id"
	case req.Currency == "":
		missing = "currency"
	case req.Gateway == "":
		missing = "gateway"
	case req.BuyerID == "":
		missing = "buyer_id"
	case req.SellerID == "":
		missing = "seller_id"
	case req.ServiceID == "":
		missing = "service_id"
	}
	if missing != "" {
		return models.NewError(models.CodeInvalidArgument, missing+" is required")
	}
	if req.Amount <= 0 {
		return models.NewError(models.CodeInvalidArgument, "amount must be greater than zero")
	}
	return nil
}
