package x402

import (
	"context"
	"time"
)

// ============================================================================
// Client Hook Context Types
// ============================================================================

// PaymentCreationContext contains information passed to payment creation hooks
type PaymentCreationContext struct {
	Ctx          context.Context
	Version      int
	Requirements PaymentRequirements
	Resource     *ResourceInfo
	Timestamp    time.Time
}

// PaymentCreationResultContext contains the created payload and timing
type PaymentCreationResultContext struct {
	PaymentCreationContext
	Payload  PaymentPayload
	Duration time.Duration
}

// PaymentCreationFailureContext contains the signing failure and timing
type PaymentCreationFailureContext struct {
	PaymentCreationContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Client Hook Result Types
// ============================================================================

// BeforePaymentCreationResult represents the result of a "before" hook
// If Abort is true, no signature is requested and creation fails with the given Reason
type BeforePaymentCreationResult struct {
	Abort  bool
	Reason string
}

// PaymentCreationFailureResult represents the result of a failure hook
// If Recovered is true, Payload is used in place of the failed signature
type PaymentCreationFailureResult struct {
	Recovered bool
	Payload   PartialPaymentPayload
}

// ============================================================================
// Client Hook Function Types
// ============================================================================

// BeforePaymentCreationHook runs before the signing capability is invoked.
// Returning Abort=true is how a holder declines to pay.
type BeforePaymentCreationHook func(PaymentCreationContext) (*BeforePaymentCreationResult, error)

// AfterPaymentCreationHook runs after a payload is created.
// Errors are ignored and never fail the payment.
type AfterPaymentCreationHook func(PaymentCreationResultContext) error

// OnPaymentCreationFailureHook runs when signing fails
type OnPaymentCreationFailureHook func(PaymentCreationFailureContext) (*PaymentCreationFailureResult, error)
