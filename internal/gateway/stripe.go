package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

// StripeAdapter drives payments through Stripe payment intents. Correlation
// ids travel as intent metadata.
type StripeAdapter struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeAdapter(secretKey string, log *logger.Logger) (*StripeAdapter, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is not configured")
	}
	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized")
	return &StripeAdapter{client: sc, log: log}, nil
}

func (a *StripeAdapter) Name() models.Gateway {
	return models.GatewayStripe
}

// StripeClientData is what the buyer's client needs to confirm the intent.
type StripeClientData struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (a *StripeAdapter) CreatePaymentObject(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	// Stripe expects minor currency units and a lower-cased currency code.
	// Rounded, not truncated: 19.99 is not exactly representable and would
	// otherwise come out a cent short.
	amountInCents := minorUnits(req.Amount)

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(MetaOrderID, req.OrderID)
	params.AddMetadata(MetaPaymentID, req.PaymentID)
	params.AddMetadata(MetaBuyerID, req.BuyerID)
	params.AddMetadata(MetaSellerID, req.SellerID)
	params.AddMetadata(MetaServiceID, req.ServiceID)

	intent, err := a.client.PaymentIntents.New(params)
	if err != nil {
		a.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for order %s: %v", req.OrderID, err))
		return nil, models.WrapError(models.CodeGatewayError, fmt.Sprintf("stripe payment intent creation failed: %v", err), err)
	}

	a.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s for order %s", intent.ID, req.OrderID))
	return &CreateResult{
		GatewayObjectID: intent.ID,
		ClientData: StripeClientData{
			ID:           intent.ID,
			ClientSecret: intent.ClientSecret,
		},
	}, nil
}

func (a *StripeAdapter) GetPaymentObject(ctx context.Context, gatewayObjectID string) (*PaymentObject, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	intent, err := a.client.PaymentIntents.Get(gatewayObjectID, params)
	if err != nil {
		a.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve payment intent %s: %v", gatewayObjectID, err))
		return nil, models.WrapError(models.CodeGatewayError, fmt.Sprintf("stripe payment intent lookup failed: %v", err), err)
	}
	return normalizeIntent(intent), nil
}

func normalizeIntent(intent *stripe.PaymentIntent) *PaymentObject {
	obj := &PaymentObject{
		ID:         intent.ID,
		State:      RemotePending,
		PaymentRef: intent.ID,
		Metadata:   intent.Metadata,
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		obj.State = RemoteSucceeded
	case stripe.PaymentIntentStatusCanceled:
		obj.State = RemoteFailed
	}

	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		obj.PaymentRef = intent.LatestCharge.ID
	}
	if intent.LastPaymentError != nil {
		obj.FailureReason = intent.LastPaymentError.Msg
	}
	return obj
}
