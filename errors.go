package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	// Err is the underlying cause, if any
	Err error `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches any PaymentError carrying the same code, so the sentinels
// below work with errors.Is regardless of message or details.
func (e *PaymentError) Is(target error) bool {
	var t *PaymentError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrCodeUnsupportedScheme     = "unsupported_scheme"
	ErrCodeMalformedRequirements = "malformed_payment_requirements"
	ErrCodeSigningRejected       = "signing_rejected"
	ErrCodeRetryExhausted        = "payment_retry_exhausted"
	ErrCodeInvalidPayment        = "invalid_payment"
	ErrCodeSettlementFailed      = "settlement_failed"
	ErrCodeFacilitator           = "facilitator_error"
)

// Sentinels for errors.Is
var (
	ErrUnsupportedPaymentScheme     = &PaymentError{Code: ErrCodeUnsupportedScheme}
	ErrMalformedPaymentRequirements = &PaymentError{Code: ErrCodeMalformedRequirements}
	ErrSigningRejected              = &PaymentError{Code: ErrCodeSigningRejected}
	ErrPaymentRetryExhausted        = &PaymentError{Code: ErrCodeRetryExhausted}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapPaymentError creates a payment error around a cause
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsTransportError reports whether err came from the network layer rather than
// from a payment stage. Transport errors are passed through without wrapping.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var paymentErr *PaymentError
	return !errors.As(err, &paymentErr)
}
