package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeGateway treats the payment reference as a PaymentIntent id.
type StripeGateway struct {
	client *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	return &StripeGateway{client: sc}, nil
}

func (g *StripeGateway) LookupPayment(ctx context.Context, paymentRef string) (*PaymentInfo, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.client.PaymentIntents.Get(paymentRef, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
			return nil, &StatusError{Provider: "stripe", StatusCode: stripeErr.HTTPStatusCode, Body: stripeErr.Msg}
		}
		return nil, fmt.Errorf("retrieve payment intent %s: %w", paymentRef, err)
	}
	return PaymentInfoFromIntent(intent), nil
}

// PaymentInfoFromIntent normalizes a PaymentIntent, whether retrieved or
// delivered by a webhook.
func PaymentInfoFromIntent(intent *stripe.PaymentIntent) *PaymentInfo {
	status := strings.ToUpper(string(intent.Status))
	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		status = StatusPaid
	}
	custom := make(map[string]string, len(intent.Metadata))
	for k, v := range intent.Metadata {
		custom[k] = v
	}
	return &PaymentInfo{
		Reference:  intent.ID,
		Status:     status,
		PaidAmount: intent.AmountReceived,
		Currency:   strings.ToUpper(string(intent.Currency)),
		CustomData: custom,
	}
}

