package x402

import "errors"

// Config validation errors
var (
	ErrMissingPrice     = errors.New("x402: price is required")
	ErrMissingRecipient = errors.New("x402: recipient is required")
	ErrMissingNetwork   = errors.New("x402: network is required")
)

// Payment processing errors
var (
	ErrPaymentRequired    = errors.New("x402: payment required")
	ErrInvalidPayment     = errors.New("x402: invalid payment")
	ErrVerificationFailed = errors.New("x402: payment verification failed")
	ErrSettlementFailed   = errors.New("x402: payment settlement failed")
)
