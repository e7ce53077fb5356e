package order_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vidflow/internal/auth"
	"vidflow/internal/logger"
	"vidflow/internal/order"
	"vidflow/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Logger:       log,
	}
}

// RegisterPublicRoutes mounts the routes that need no token.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/packages/{packageId}", h.GetPackage)
	r.Post("/payments/webhook/portone", h.PortOneWebhook)
	r.Post("/payments/webhook/stripe", h.StripeWebhook)
}

// RegisterRoutes mounts the customer routes. r must carry auth.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/me", h.ListMyOrders)
	r.Get("/orders/{orderId}", h.GetOrder)
}

var kindStatus = map[order.ErrorKind]int{
	order.KindValidation:     http.StatusBadRequest,
	order.KindNotFound:       http.StatusNotFound,
	order.KindSoldOut:        http.StatusConflict,
	order.KindVerification:   http.StatusPaymentRequired,
	order.KindAmountMismatch: http.StatusPaymentRequired,
	order.KindPersistence:    http.StatusInternalServerError,
	order.KindDuplicate:      http.StatusConflict,
	order.KindInProgress:     http.StatusConflict,
}

// StatusForResult maps an order result to its HTTP status.
func StatusForResult(result order.VerifyResult) int {
	if result.Success {
		if result.Duplicate {
			return http.StatusOK
		}
		return http.StatusCreated
	}
	if status, ok := kindStatus[result.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	packageID, err := strconv.ParseInt(chi.URLParam(r, "packageId"), 10, 64)
	if err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid packageId", chi.URLParam(r, "packageId")))
		return
	}

	pkg, err := h.OrderService.QuotePackage(r.Context(), packageID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			h.write(w, http.StatusNotFound, utils.ErrorResponse("Package not found", err.Error()))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetPackage: %v", err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load package", "internal error"))
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Package", pkg))
}

type createOrderBody struct {
	PaymentRef    string `json:"paymentRef"`
	EventID       int64  `json:"eventId"`
	PackageID     int64  `json:"packageId"`
	Discipline    string `json:"discipline,omitempty"`
	AthleteNumber string `json:"athleteNumber,omitempty"`
}

// CreateOrder verifies the payment the client just completed and creates
// the order. The buyer is the token subject and the expected amount is the
// package's server-side price.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: invalid body: %v", err))
		h.writeResult(w, order.VerifyResult{OrderResult: order.OrderResult{Error: "invalid request body", Kind: order.KindValidation}})
		return
	}
	buyerID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateOrder: payment=%s package=%d buyer=%s", body.PaymentRef, body.PackageID, buyerID))

	if body.PackageID <= 0 || strings.TrimSpace(body.PaymentRef) == "" {
		h.writeResult(w, order.VerifyResult{OrderResult: order.OrderResult{
			Error: "paymentRef and a positive packageId are required",
			Kind:  order.KindValidation,
		}})
		return
	}

	pkg, err := h.OrderService.QuotePackage(r.Context(), body.PackageID)
	if err != nil {
		kind := order.KindPersistence
		public := "could not load the package"
		if errors.Is(err, order.ErrNotFound) {
			kind, public = order.KindNotFound, "package not found"
		} else {
			h.Logger.Error("API", fmt.Sprintf("CreateOrder: %v", err))
		}
		h.writeResult(w, order.VerifyResult{OrderResult: order.OrderResult{Error: public, Kind: kind}})
		return
	}

	result := h.OrderService.VerifyAndCreateOrder(r.Context(), order.VerifyRequest{
		PaymentRef:     body.PaymentRef,
		BuyerID:        buyerID,
		EventID:        body.EventID,
		PackageID:      body.PackageID,
		ExpectedAmount: pkg.Price,
		Discipline:     body.Discipline,
		AthleteNumber:  body.AthleteNumber,
	})
	h.writeResult(w, result)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid orderId", chi.URLParam(r, "orderId")))
		return
	}

	orderData, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			h.write(w, http.StatusNotFound, utils.ErrorResponse("Order not found", ""))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load order", "internal error"))
		return
	}

	// someone else's order looks missing
	if orderData.Order.UserID != auth.UserID(r.Context()) && !auth.IsStaff(r.Context()) {
		h.Logger.LogSecurity("ORDER_ACCESS", fmt.Sprintf("user %s denied order %d", auth.UserID(r.Context()), orderID))
		h.write(w, http.StatusNotFound, utils.ErrorResponse("Order not found", ""))
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Order", orderData))
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrdersByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, order.ErrValidation) {
			h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid user", err.Error()))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("ListMyOrders: %v", err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load orders", "internal error"))
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Orders", orders))
}

func (h *Handler) PortOneWebhook(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "PortOneWebhook: received webhook event")
	result, err := h.OrderService.HandlePortOneWebhook(r)
	h.respondWebhook(w, "PortOneWebhook", result, err)
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "StripeWebhook: received webhook event")
	result, err := h.OrderService.HandleStripeWebhook(r)
	h.respondWebhook(w, "StripeWebhook", result, err)
}

func (h *Handler) respondWebhook(w http.ResponseWriter, name string, result *order.VerifyResult, err error) {
	if err != nil {
		var webhookErr *order.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Info("API", fmt.Sprintf("%s: category=%s status=%d", name, webhookErr.Category, webhookErr.StatusCode))
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("%s: %v", name, err))
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := utils.WriteJSON(w, http.StatusOK, result); err != nil {
		h.Logger.Error("API", fmt.Sprintf("%s: failed to encode response: %v", name, err))
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, result order.VerifyResult) {
	if err := utils.WriteJSON(w, StatusForResult(result), result); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) write(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
