package gateway

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

// RazorpayAdapter drives payments through Razorpay orders. Correlation ids
// travel as order notes; the Razorpay client SDK does not accept a context,
// so call deadlines are bounded by the SDK's HTTP client timeout.
type RazorpayAdapter struct {
	client *razorpay.Client
	log    *logger.Logger
}

func NewRazorpayAdapter(keyID, keySecret string, log *logger.Logger) (*RazorpayAdapter, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay key id and secret are not configured")
	}
	rc := razorpay.NewClient(keyID, keySecret)
	log.Info("RAZORPAY", "Razorpay client initialized")
	return &RazorpayAdapter{client: rc, log: log}, nil
}

func (a *RazorpayAdapter) Name() models.Gateway {
	return models.GatewayRazorpay
}

func (a *RazorpayAdapter) CreatePaymentObject(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	// Razorpay expects the amount in minor units (paise).
	amountInPaise := minorUnits(req.Amount)

	data := map[string]interface{}{
		"amount":   amountInPaise,
		"currency": req.Currency,
		"receipt":  req.PaymentID,
		"notes": map[string]interface{}{
			MetaOrderID:   req.OrderID,
			MetaPaymentID: req.PaymentID,
			MetaBuyerID:   req.BuyerID,
			MetaSellerID:  req.SellerID,
			MetaServiceID: req.ServiceID,
		},
	}

	order, err := a.client.Order.Create(data, nil)
	if err != nil {
		a.log.Error("RAZORPAY", fmt.Sprintf("Failed to create order for order %s: %v", req.OrderID, err))
		return nil, models.WrapError(models.CodeGatewayError, fmt.Sprintf("razorpay order creation failed: %v", err), err)
	}

	remoteID, _ := order["id"].(string)
	if remoteID == "" {
		return nil, models.NewError(models.CodeGatewayError, "razorpay order response missing id")
	}

	a.log.Info("RAZORPAY", fmt.Sprintf("Created razorpay order %s for order %s", remoteID, req.OrderID))
	return &CreateResult{
		GatewayObjectID: remoteID,
		// The client gets the full remote order object back.
		ClientData: order,
	}, nil
}

func (a *RazorpayAdapter) GetPaymentObject(ctx context.Context, gatewayObjectID string) (*PaymentObject, error) {
	order, err := a.client.Order.Fetch(gatewayObjectID, nil, nil)
	if err != nil {
		a.log.Error("RAZORPAY", fmt.Sprintf("Failed to fetch razorpay order %s: %v", gatewayObjectID, err))
		return nil, models.WrapError(models.CodeGatewayError, fmt.Sprintf("razorpay order lookup failed: %v", err), err)
	}

	obj := &PaymentObject{
		ID:       gatewayObjectID,
		State:    RemotePending,
		Metadata: notesToMetadata(order["notes"]),
	}

	// Razorpay orders never reach a failed state themselves; only "paid" is
	// terminal here. Failed payment attempts leave the order at "attempted".
	status, _ := order["status"].(string)
	if status == "paid" {
		obj.State = RemoteSucceeded
		obj.PaymentRef = a.capturedPayment(gatewayObjectID)
	}
	return obj, nil
}

// capturedPayment finds the gateway payment id behind a paid order.
func (a *RazorpayAdapter) capturedPayment(orderID string) string {
	payments, err := a.client.Order.Payments(orderID, nil, nil)
	if err != nil {
		a.log.Warn("RAZORPAY", fmt.Sprintf("Failed to list payments for razorpay order %s: %v", orderID, err))
		return ""
	}
	items, _ := payments["items"].([]interface{})
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		status, _ := item["status"].(string)
		if status == "captured" || status == "authorized" {
			id, _ := item["id"].(string)
			return id
		}
	}
	return ""
}

func notesToMetadata(raw interface{}) map[string]string {
	notes, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	metadata := make(map[string]string, len(notes))
	for k, v := range notes {
		if s, ok := v.(string); ok {
			metadata[k] = s
		}
	}
	return metadata
}
