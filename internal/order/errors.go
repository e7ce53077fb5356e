package order

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed order operation.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindSoldOut        ErrorKind = "sold_out"
	KindVerification   ErrorKind = "verification"
	KindAmountMismatch ErrorKind = "amount_mismatch"
	KindPersistence    ErrorKind = "persistence"
	KindDuplicate      ErrorKind = "duplicate"
	// KindInProgress means another request holds the payment and has not
	// finished. The caller may retry.
	KindInProgress ErrorKind = "in_progress"
)

var (
	ErrValidation     = errors.New("invalid order request")
	ErrNotFound       = errors.New("not found")
	ErrSoldOut        = errors.New("package sold out")
	ErrVerification   = errors.New("payment verification failed")
	ErrAmountMismatch = errors.New("payment amount mismatch")
	ErrPersistence    = errors.New("order persistence failed")
	ErrDuplicate      = errors.New("order already exists for payment")
	ErrInProgress     = errors.New("payment is being processed by another request")

	// ErrDuplicatePaymentRef is returned by a Store when the payment
	// reference unique constraint rejects an insert.
	ErrDuplicatePaymentRef = errors.New("duplicate payment reference")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:     ErrValidation,
	KindNotFound:       ErrNotFound,
	KindSoldOut:        ErrSoldOut,
	KindVerification:   ErrVerification,
	KindAmountMismatch: ErrAmountMismatch,
	KindPersistence:    ErrPersistence,
	KindDuplicate:      ErrDuplicate,
	KindInProgress:     ErrInProgress,
}

// Error is the failure of an order operation. PublicError is safe to show
// to the buyer; InternalError and OriginalErr go to the logs.
type Error struct {
	Kind          ErrorKind
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *Error) Error() string {
	if e.InternalError != "" {
		return e.InternalError
	}
	return e.PublicError
}

func (e *Error) Unwrap() error {
	return e.OriginalErr
}

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, public string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:          kind,
		PublicError:   public,
		InternalError: fmt.Sprintf(format, args...),
		OriginalErr:   cause,
	}
}

func validationError(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: KindValidation, PublicError: msg, InternalError: msg}
}

func persistenceError(step string, cause error) *Error {
	return newError(KindPersistence, "could not save the order, please try again", cause,
		"%s: %v", step, cause)
}
