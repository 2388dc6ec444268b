package models

import (
	"time"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether a payment status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewayRazorpay Gateway = "razorpay"
)

// Payment records one attempt to pay for an order through a gateway.
// Payments are never deleted; failed attempts stay behind as an audit trail.
// GatewayObjectID is the remote order/intent id and never changes once set.
type Payment struct {
	ID              string        `json:"payment_id"`
	OrderID         string        `json:"order_id"`
	BuyerID         string        `json:"buyer_id"`
	SellerID        string        `json:"seller_id"`
	ServiceID       string        `json:"service_id"`
	Gateway         Gateway       `json:"gateway"`
	GatewayObjectID string        `json:"gateway_object_id"`
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	PaymentDetails  string        `json:"payment_details,omitempty"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the terminal result delivered by a webhook or the pending sweep.
type Outcome struct {
	Kind OutcomeKind
	// GatewayPaymentRef identifies the gateway-side payment on success
	// (charge id for Stripe, payment id for Razorpay).
	GatewayPaymentRef string
	// Reason carries the gateway's failure description on failure.
	Reason string
}

func Succeeded(ref string) Outcome {
	return Outcome{Kind: OutcomeSucceeded, GatewayPaymentRef: ref}
}

func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

type InitializePaymentRequest struct {
	OrderID   string  `json:"order_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Gateway   Gateway `json:"gateway"`
	BuyerID   string  `json:"buyer_id"`
	SellerID  string  `json:"seller_id"`
	ServiceID string  `json:"service_id"`
}

// InitializePaymentResponse carries the new payment id plus whatever the
// chosen gateway's client needs to continue: {id, client_secret} for Stripe,
// the full remote order object for Razorpay.
type InitializePaymentResponse struct {
	PaymentID   string      `json:"payment_id"`
	GatewayData interface{} `json:"gateway_data"`
}

type VerifyRazorpayPaymentRequest struct {
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	RemotePaymentID string `json:"razorpay_payment_id"`
	Signature       string `json:"razorpay_signature"`
}

type CompleteStripePaymentRequest struct {
	PaymentID      string `json:"payment_id"`
	OrderID        string `json:"order_id"`
	RemoteIntentID string `json:"payment_intent_id"`
}

// PaymentEvent is the Kafka lifecycle event published after reconciliation.
type PaymentEvent struct {
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Payment   *Payment  `json:"payment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeadLetter is published to the dead-letter topic when an authenticated
// webhook event cannot be processed. The raw event is kept so the replay
// consumer can drive the reconciler later.
type DeadLetter struct {
	Gateway   Gateway   `json:"gateway"`
	EventID   string    `json:"event_id,omitempty"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason"`
	RawEvent  []byte    `json:"raw_event"`
	Timestamp time.Time `json:"timestamp"`
}
