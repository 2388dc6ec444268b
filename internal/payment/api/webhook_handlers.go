package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/razorpay/razorpay-go/utils"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-payments/internal/gateway"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

const maxWebhookBodyBytes = int64(65536)

// OutcomeApplier is the reconciler surface webhooks drive.
type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, paymentID, orderID string, outcome models.Outcome) error
}

// Deduper short-circuits duplicate deliveries by event id.
type Deduper interface {
	MarkSeen(ctx context.Context, gateway, eventID string) (bool, error)
}

// DeadLetterPublisher parks events that failed outcome processing.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error
}

// WebhookHandler authenticates gateway callbacks and routes them to the
// reconciler. Verification failures return 400 with no mutation; the
// gateway's own retry policy covers those. Authenticated events that fail
// processing are parked on the dead-letter topic and answered 500 so the
// sender retries; unrecognized event types are acknowledged 200 to avoid
// retry storms.
type WebhookHandler struct {
	StripeWebhookSecret   string
	RazorpayWebhookSecret string
	// Razorpay adapter for the correlation lookup: the razorpay payment
	// payload does not carry our ids, only the remote order's notes do.
	Razorpay    gateway.Adapter
	Reconciler  OutcomeApplier
	Dedup       Deduper
	DeadLetters DeadLetterPublisher
	Logger      *logger.Logger
}

// StripeWebhook handles POST /webhooks/stripe.
func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read stripe webhook payload: %v", err))
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.StripeWebhookSecret, opts)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Stripe signature verification failed: %v", err))
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	if !h.firstDelivery(r.Context(), models.GatewayStripe, event.ID) {
		h.ack(w)
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		if err := h.processStripeEvent(r.Context(), event); err != nil {
			h.handleProcessingError(w, r.Context(), models.DeadLetter{
				Gateway:   models.GatewayStripe,
				EventID:   event.ID,
				EventType: string(event.Type),
				Reason:    err.Error(),
				RawEvent:  payload,
			}, err)
			return
		}
	default:
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled stripe event type: %s", event.Type))
	}

	h.ack(w)
}

func (h *WebhookHandler) processStripeEvent(ctx context.Context, event stripe.Event) error {
	// Replayed dead letters go through here too, and those payloads are not
	// guaranteed to carry a data object.
	if event.Data == nil {
		return models.NewError(models.CodeInvalidArgument, "stripe event has no data payload")
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return models.WrapError(models.CodeInvalidArgument, "failed to unmarshal payment intent", err)
	}

	orderID := intent.Metadata[gateway.MetaOrderID]
	paymentID := intent.Metadata[gateway.MetaPaymentID]
	if orderID == "" || paymentID == "" {
		return models.NewError(models.CodeInvalidArgument, "payment intent has no correlation metadata")
	}

	switch event.Type {
	case "payment_intent.succeeded":
		ref := intent.ID
		if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
			ref = intent.LatestCharge.ID
		}
		return h.Reconciler.ApplyOutcome(ctx, paymentID, orderID, models.Succeeded(ref))
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return h.Reconciler.ApplyOutcome(ctx, paymentID, orderID, models.Failed(reason))
	}
	return nil
}

// RazorpayWebhook handles POST /webhooks/razorpay.
func (h *WebhookHandler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read razorpay webhook payload: %v", err))
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	if signature == "" || !utils.VerifyWebhookSignature(string(payload), signature, h.RazorpayWebhookSecret) {
		h.Logger.Error("WEBHOOK", "Razorpay webhook signature verification failed")
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	eventID := r.Header.Get("X-Razorpay-Event-Id")
	if !h.firstDelivery(r.Context(), models.GatewayRazorpay, eventID) {
		h.ack(w)
		return
	}

	var event models.RazorpayWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal razorpay event: %v", err))
		http.Error(w, "Invalid event data", http.StatusBadRequest)
		return
	}

	switch event.Event {
	case "payment.authorized", "payment.failed":
		if err := h.processRazorpayEvent(r.Context(), event); err != nil {
			h.handleProcessingError(w, r.Context(), models.DeadLetter{
				Gateway:   models.GatewayRazorpay,
				EventID:   eventID,
				EventType: event.Event,
				Reason:    err.Error(),
				RawEvent:  payload,
			}, err)
			return
		}
	default:
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled razorpay event type: %s", event.Event))
	}

	h.ack(w)
}

func (h *WebhookHandler) processRazorpayEvent(ctx context.Context, event models.RazorpayWebhookEvent) error {
	entity := event.Payload.Payment.Entity
	if entity.OrderID == "" {
		return models.NewError(models.CodeInvalidArgument, "razorpay payment entity has no order id")
	}

	// The payment entity carries only the remote order id; our correlation
	// ids live in the order's notes and need a fetch back to the gateway.
	obj, err := h.Razorpay.GetPaymentObject(ctx, entity.OrderID)
	if err != nil {
		return err
	}

	orderID := obj.Metadata[gateway.MetaOrderID]
	paymentID := obj.Metadata[gateway.MetaPaymentID]
	if orderID == "" || paymentID == "" {
		return models.NewError(models.CodeInvalidArgument, "razorpay order notes have no correlation ids")
	}

	switch event.Event {
	case "payment.authorized":
		return h.Reconciler.ApplyOutcome(ctx, paymentID, orderID, models.Succeeded(entity.ID))
	case "payment.failed":
		reason := entity.ErrorDescription
		if reason == "" {
			reason = "payment failed"
		}
		return h.Reconciler.ApplyOutcome(ctx, paymentID, orderID, models.Failed(reason))
	}
	return nil
}

// ReplayDeadLetter re-processes a parked event from the dead-letter topic.
// Returns an error only for retryable failures; permanently malformed
// events are logged and dropped so they cannot loop forever.
func (h *WebhookHandler) ReplayDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	var err error
	switch dl.Gateway {
	case models.GatewayStripe:
		var event stripe.Event
		if uerr := json.Unmarshal(dl.RawEvent, &event); uerr != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("Dropping undecodable stripe dead letter %s: %v", dl.EventID, uerr))
			return nil
		}
		err = h.processStripeEvent(ctx, event)
	case models.GatewayRazorpay:
		var event models.RazorpayWebhookEvent
		if uerr := json.Unmarshal(dl.RawEvent, &event); uerr != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("Dropping undecodable razorpay dead letter %s: %v", dl.EventID, uerr))
			return nil
		}
		err = h.processRazorpayEvent(ctx, event)
	default:
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Dropping dead letter for unknown gateway %q", dl.Gateway))
		return nil
	}

	if err == nil {
		return nil
	}
	switch models.CodeOf(err) {
	case models.CodeGatewayError, models.CodeInternal:
		return err
	default:
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Dropping unprocessable dead letter %s: %v", dl.EventID, err))
		return nil
	}
}

// firstDelivery marks the event as seen; on dedup backend errors it lets
// the event through and leans on the reconciler's guard.
func (h *WebhookHandler) firstDelivery(ctx context.Context, gw models.Gateway, eventID string) bool {
	if h.Dedup == nil || eventID == "" {
		return true
	}
	first, err := h.Dedup.MarkSeen(ctx, string(gw), eventID)
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("Dedup check failed for event %s: %v", eventID, err))
		return true
	}
	if !first {
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Duplicate %s event %s acknowledged without processing", gw, eventID))
	}
	return first
}

func (h *WebhookHandler) handleProcessingError(w http.ResponseWriter, ctx context.Context, dl models.DeadLetter, err error) {
	h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to process %s event %s: %v", dl.Gateway, dl.EventID, err))

	if models.CodeOf(err) == models.CodeInvalidArgument {
		// Malformed but authentic event; retrying cannot fix it.
		http.Error(w, models.PublicMessage(err), http.StatusBadRequest)
		return
	}

	if h.DeadLetters != nil {
		if perr := h.DeadLetters.PublishDeadLetter(ctx, dl); perr != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to park dead letter for event %s: %v", dl.EventID, perr))
		}
	}
	// 500 makes the gateway retry on its own schedule as well.
	http.Error(w, "Failed to process event", http.StatusInternalServerError)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.WebhookAck{Received: true})
}
