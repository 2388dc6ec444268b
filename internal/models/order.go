package models

import (
	"time"
)

const (
	OrderStatusAwaitingPayment = "awaiting_payment"
	OrderStatusActive          = "active"
)

// Order is the purchase record marked paid by the reconciler. Orders are
// created by the order service before payment begins; here they are only
// read and updated, keyed by id.
type Order struct {
	ID           string    `json:"order_id"`
	BuyerID      string    `json:"buyer_id,omitempty"`
	SellerID     string    `json:"seller_id,omitempty"`
	IsPaid       bool      `json:"is_paid"`
	Status       string    `json:"status"`
	PaymentError string    `json:"payment_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
