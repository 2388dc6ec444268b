package models

// Razorpay webhook envelope. The payment entity carries the remote order id
// but not our correlation ids; those live in the order's notes and require a
// fetch back to the gateway.
type RazorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity RazorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type RazorpayPaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WebhookAck is the body returned for every accepted webhook delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}
