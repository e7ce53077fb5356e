package payment

import (
	"context"
	"errors"
	"fmt"
)

// StatusPaid is the normalized status of a completed payment.
const StatusPaid = "PAID"

var ErrGatewayStatus = errors.New("payment gateway returned an error status")

// StatusError is a non-2xx answer from a gateway.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrGatewayStatus
}

// PaymentInfo is a gateway's view of one payment. Amounts are in the
// smallest currency unit.
type PaymentInfo struct {
	Reference  string
	Status     string
	PaidAmount int64
	Currency   string
	CustomData map[string]string
}

func (p *PaymentInfo) IsPaid() bool {
	return p != nil && p.Status == StatusPaid
}

// Gateway looks up a payment by the reference the client reported.
type Gateway interface {
	LookupPayment(ctx context.Context, paymentRef string) (*PaymentInfo, error)
}
