// Package cash is a toy payment scheme for tests. A cash payment is "signed"
// by prefixing the payer's name with a tilde.
package cash

import (
	"context"
	"fmt"
	"strconv"
	"time"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// Scheme is the cash scheme identifier
const Scheme = "cash"

// SchemeNetworkClient implements the client side of the cash payment scheme
type SchemeNetworkClient struct {
	payer string
}

// NewSchemeNetworkClient creates a new cash scheme client
func NewSchemeNetworkClient(payer string) *SchemeNetworkClient {
	return &SchemeNetworkClient{
		payer: payer,
	}
}

// Scheme returns the payment scheme identifier
func (c *SchemeNetworkClient) Scheme() string {
	return Scheme
}

// CreatePaymentPayload creates a payment payload for the cash scheme
func (c *SchemeNetworkClient) CreatePaymentPayload(ctx context.Context, version int, requirements x402.PaymentRequirements) (x402.PartialPaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return x402.PartialPaymentPayload{}, err
	}
	validUntil := time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix()

	return x402.PartialPaymentPayload{
		X402Version: version,
		Payload: map[string]interface{}{
			"signature":  fmt.Sprintf("~%s", c.payer),
			"validUntil": strconv.FormatInt(validUntil, 10),
			"name":       c.payer,
			"amount":     requirements.GetAmount(),
		},
	}, nil
}

// Verify checks a cash payload. It returns the payer name on success or an
// invalid reason otherwise.
func Verify(payload x402.PaymentPayload, requirements x402.PaymentRequirements, now time.Time) x402.VerifyResponse {
	signature, ok := payload.Payload["signature"].(string)
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_signature"}
	}

	name, ok := payload.Payload["name"].(string)
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_name"}
	}

	validUntilStr, ok := payload.Payload["validUntil"].(string)
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_validUntil"}
	}

	if signature != fmt.Sprintf("~%s", name) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}
	}

	if amount, _ := payload.Payload["amount"].(string); amount != requirements.GetAmount() {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "amount_mismatch", Payer: name}
	}

	validUntil, err := strconv.ParseInt(validUntilStr, 10, 64)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_validUntil"}
	}
	if validUntil < now.Unix() {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "expired_signature", Payer: name}
	}

	return x402.VerifyResponse{IsValid: true, Payer: name}
}
