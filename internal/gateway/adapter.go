package gateway

import (
	"context"
	"math"

	"ms-payments/internal/models"
)

// Correlation metadata keys attached to every remote payment object so a
// later webhook can recover the internal ids.
const (
	MetaOrderID   = "orderId"
	MetaPaymentID = "paymentId"
	MetaBuyerID   = "buyerId"
	MetaSellerID  = "sellerId"
	MetaServiceID = "serviceId"
)

type CreateRequest struct {
	PaymentID string
	OrderID   string
	BuyerID   string
	SellerID  string
	ServiceID string
	Amount    float64
	Currency  string
}

// CreateResult normalizes the remote payment object the client continues
// with. ClientData is gateway-shaped: {id, client_secret} for Stripe, the
// full remote order object for Razorpay.
type CreateResult struct {
	GatewayObjectID string
	ClientData      interface{}
}

type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteSucceeded RemoteState = "succeeded"
	RemoteFailed    RemoteState = "failed"
)

// PaymentObject is the normalized view of the gateway's own record of a
// payment, including the correlation metadata embedded at creation time.
type PaymentObject struct {
	ID            string
	State         RemoteState
	PaymentRef    string
	FailureReason string
	Metadata      map[string]string
}

// Adapter is the uniform contract over the two payment providers. Variants
// are selected once at startup through the registry, never by string
// dispatch at call sites.
type Adapter interface {
	Name() models.Gateway
	// CreatePaymentObject allocates the remote payment object (a payment
	// intent for Stripe, an order for Razorpay) with the correlation ids
	// embedded. No internal retry; upstream failures surface as
	// CodeGatewayError with the upstream message attached.
	CreatePaymentObject(ctx context.Context, req CreateRequest) (*CreateResult, error)
	// GetPaymentObject fetches and normalizes the remote object by its
	// gateway id. Serves the Stripe client confirmation, the Razorpay
	// webhook correlation lookup and the pending sweep.
	GetPaymentObject(ctx context.Context, gatewayObjectID string) (*PaymentObject, error)
}

// Registry maps a gateway name to its adapter, built once at startup.
type Registry map[models.Gateway]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter for a gateway, or nil when unsupported.
func (r Registry) Lookup(g models.Gateway) Adapter {
	return r[g]
}

// minorUnits converts a major-unit amount to minor units (cents, paise).
// Rounds to the nearest unit; plain truncation loses a cent on amounts like
// 19.99 that have no exact float64 representation.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func validateCreateRequest(req CreateRequest) error {
	if req.Amount <= 0 {
		return models.NewError(models.CodeInvalidArgument, "amount must be greater than zero")
	}
	if req.Currency == "" {
		return models.NewError(models.CodeInvalidArgument, "currency is required")
	}
	return nil
}
