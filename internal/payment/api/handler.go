package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-payments/internal/auth"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment"
	"ms-payments/internal/utils"
)

// Handler serves the authenticated payment RPC surface. Webhooks live on
// WebhookHandler; they authenticate by signature, not bearer token.
type Handler struct {
	Service *payment.Service
	Logger  *logger.Logger
}

func NewHandler(service *payment.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// InitializePayment allocates a Payment and the matching remote gateway
// object, returning whatever the chosen gateway's client needs to continue.
func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var req models.InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("InitializePayment: invalid payload: %v", err))
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	resp, err := h.Service.InitializePayment(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, "InitializePayment", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Payment initialized", resp))
}

func (h *Handler) VerifyRazorpayPayment(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRazorpayPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("VerifyRazorpayPayment: invalid payload: %v", err))
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	if err := h.Service.VerifyRazorpayPayment(r.Context(), auth.UserID(r.Context()), req); err != nil {
		h.writeError(w, "VerifyRazorpayPayment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment verified", map[string]bool{"success": true}))
}

func (h *Handler) CompleteStripePayment(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteStripePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CompleteStripePayment: invalid payload: %v", err))
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	if err := h.Service.CompleteStripePayment(r.Context(), auth.UserID(r.Context()), req); err != nil {
		h.writeError(w, "CompleteStripePayment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", map[string]bool{"success": true}))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")
	paymentData, err := h.Service.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, "GetPayment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment", paymentData))
}

// ListOrderPayments returns every payment attempt recorded against an order.
func (h *Handler) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	payments, err := h.Service.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "ListOrderPayments", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payments", payments))
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	code := models.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	h.writeJSON(w, status, utils.ErrorResponse(models.PublicMessage(err), string(code)))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func httpStatus(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidArgument:
		return http.StatusBadRequest
	case models.CodeUnauthenticated:
		return http.StatusUnauthorized
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case models.CodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
