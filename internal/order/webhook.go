package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"vidflow/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "rejected", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

const (
	portOneEventPaid    = "Transaction.Paid"
	maxWebhookBodyBytes = 1 << 20

	webhookInvalidBody   = "Invalid webhook payload"
	webhookInvalidOrder  = "Invalid order parameters"
	webhookProcessFailed = "Failed to process payment"
)

type portOneWebhook struct {
	Type string `json:"type"`
	Data struct {
		PaymentID string `json:"paymentId"`
	} `json:"data"`
}

// HandlePortOneWebhook creates the order for a Transaction.Paid
// notification. Other notification types are acknowledged with a nil
// result.
func (s *OrderService) HandlePortOneWebhook(r *http.Request) (*VerifyResult, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, webhookInvalidBody,
			fmt.Sprintf("Failed to read webhook payload: %v", err), err)
	}

	var event portOneWebhook
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, webhookInvalidBody,
			fmt.Sprintf("Failed to decode portone webhook: %v", err), err)
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Processing PortOne webhook event: %s", event.Type))
	if event.Type != portOneEventPaid {
		return nil, nil
	}
	if strings.TrimSpace(event.Data.PaymentID) == "" {
		return nil, s.webhookError("validation", http.StatusBadRequest, webhookInvalidBody,
			"PortOne webhook has no paymentId", nil)
	}

	info, err := s.Gateway.LookupPayment(r.Context(), event.Data.PaymentID)
	if err != nil {
		return nil, s.webhookError("processing", http.StatusInternalServerError, "Payment lookup failed",
			fmt.Sprintf("Failed to look up payment %s: %v", event.Data.PaymentID, err), err)
	}
	return s.processPaidWebhook(r.Context(), event.Data.PaymentID, info.CustomData)
}

// HandleStripeWebhook verifies the Stripe signature and creates the order
// for payment_intent.succeeded events.
func (s *OrderService) HandleStripeWebhook(r *http.Request) (*VerifyResult, error) {
	if s.StripeWebhookSecret == "" {
		return nil, s.webhookError("configuration", http.StatusInternalServerError, "Webhook processing error",
			"Stripe webhook secret is not configured", nil)
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, webhookInvalidBody,
			fmt.Sprintf("Failed to read webhook payload: %v", err), err)
	}

	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.StripeWebhookSecret, opts)
	if err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, "Webhook signature verification failed",
			fmt.Sprintf("Webhook signature verification failed: %v", err), err)
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return nil, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, "Invalid event data",
			fmt.Sprintf("Failed to unmarshal payment intent: %v", err), err)
	}
	info := payment.PaymentInfoFromIntent(&intent)
	return s.processPaidWebhook(r.Context(), intent.ID, info.CustomData)
}

func (s *OrderService) processPaidWebhook(ctx context.Context, paymentRef string, custom map[string]string) (*VerifyResult, error) {
	req, err := verifyRequestFromCustomData(paymentRef, custom)
	if err != nil {
		return nil, s.webhookError("validation", http.StatusBadRequest, webhookInvalidOrder,
			fmt.Sprintf("Payment %s carries invalid order parameters: %v", paymentRef, err), err)
	}

	// the charge is checked against the server-side price, never the client's
	pkg, err := s.QuotePackage(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.webhookError("rejected", http.StatusUnprocessableEntity, "Package not found",
				fmt.Sprintf("Payment %s references unknown package %d", paymentRef, req.PackageID), err)
		}
		return nil, s.webhookError("processing", http.StatusInternalServerError, webhookProcessFailed,
			fmt.Sprintf("Failed to price package %d: %v", req.PackageID, err), err)
	}
	req.ExpectedAmount = pkg.Price

	result := s.VerifyAndCreateOrder(ctx, req)
	if result.Success {
		s.logger.Info("WEBHOOK", fmt.Sprintf("Payment %s settled as order %d (duplicate=%t)", paymentRef, result.OrderID, result.Duplicate))
		return &result, nil
	}

	status := http.StatusUnprocessableEntity
	category := "rejected"
	switch result.Kind {
	case KindPersistence:
		status = http.StatusInternalServerError
		category = "processing"
	case KindInProgress:
		status = http.StatusServiceUnavailable
		category = "processing"
	}
	return &result, s.webhookError(category, status, result.Error,
		fmt.Sprintf("Payment %s rejected (%s): %s", paymentRef, result.Kind, result.Error), nil)
}

func verifyRequestFromCustomData(paymentRef string, custom map[string]string) (VerifyRequest, error) {
	req := VerifyRequest{
		PaymentRef:    paymentRef,
		BuyerID:       custom["buyerId"],
		Discipline:    custom["discipline"],
		AthleteNumber: custom["athleteNumber"],
	}
	if req.BuyerID == "" {
		return req, errors.New("missing buyerId")
	}
	var err error
	if req.EventID, err = strconv.ParseInt(custom["eventId"], 10, 64); err != nil {
		return req, fmt.Errorf("eventId: %w", err)
	}
	if req.PackageID, err = strconv.ParseInt(custom["packageId"], 10, 64); err != nil {
		return req, fmt.Errorf("packageId: %w", err)
	}
	return req, nil
}

func (s *OrderService) webhookError(category string, status int, public, internal string, cause error) *WebhookError {
	if status >= http.StatusInternalServerError {
		s.logger.Error("WEBHOOK", internal)
	} else {
		s.logger.Warn("WEBHOOK", internal)
	}
	return &WebhookError{
		Category:      category,
		StatusCode:    status,
		PublicError:   public,
		InternalError: internal,
		OriginalErr:   cause,
	}
}
