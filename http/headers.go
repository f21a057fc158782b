package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// Header names used by the x402 HTTP transport
const (
	// PaymentRequiredHeader carries base64 PaymentRequired on v2 402 responses
	PaymentRequiredHeader = "PAYMENT-REQUIRED"
	// PaymentSignatureHeader carries the v2 payment payload on the retried request
	PaymentSignatureHeader = "PAYMENT-SIGNATURE"
	// PaymentResponseHeader carries the v2 settlement receipt
	PaymentResponseHeader = "PAYMENT-RESPONSE"

	// XPaymentHeader carries the v1 payment payload on the retried request
	XPaymentHeader = "X-PAYMENT"
	// XPaymentResponseHeader carries the v1 settlement receipt
	XPaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// PaymentHeaderName returns the request header that carries a payload of the given version
func PaymentHeaderName(version int) string {
	if version == x402.ProtocolVersionV1 {
		return XPaymentHeader
	}
	return PaymentSignatureHeader
}

// SettleResponseHeaderName returns the response header that carries a receipt for the given version
func SettleResponseHeaderName(version int) string {
	if version == x402.ProtocolVersionV1 {
		return XPaymentResponseHeader
	}
	return PaymentResponseHeader
}

func encodeHeader(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeHeader(header string, v interface{}) error {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// EncodePaymentSignatureHeader encodes a payment payload as base64 JSON
func EncodePaymentSignatureHeader(payload x402.PaymentPayload) (string, error) {
	encoded, err := encodeHeader(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return encoded, nil
}

// DecodePaymentSignatureHeader decodes a base64 payment signature header
func DecodePaymentSignatureHeader(header string) (x402.PaymentPayload, error) {
	var payload x402.PaymentPayload
	if err := decodeHeader(header, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment payload header: %w", err)
	}
	return payload, nil
}

// EncodePaymentRequiredHeader encodes payment requirements as base64 JSON
func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	encoded, err := encodeHeader(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return encoded, nil
}

// DecodePaymentRequiredHeader decodes a base64 PAYMENT-REQUIRED header.
// The decoded document is checked against the same schema as a 402 body.
func DecodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentRequired{}, x402.WrapPaymentError(x402.ErrCodeMalformedRequirements, "invalid PAYMENT-REQUIRED header", err)
	}
	return parsePaymentRequired(data)
}

// EncodePaymentResponseHeader encodes a settlement receipt as base64 JSON
func EncodePaymentResponseHeader(response x402.SettleResponse) (string, error) {
	encoded, err := encodeHeader(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return encoded, nil
}

// DecodePaymentResponseHeader decodes a base64 settlement receipt header
func DecodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	var response x402.SettleResponse
	if err := decodeHeader(header, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid settle response header: %w", err)
	}
	return response, nil
}

// GetPaymentSettleResponse extracts the settlement receipt from response headers.
// It returns (nil, nil) when neither receipt header is present.
func GetPaymentSettleResponse(headers http.Header) (*x402.SettleResponse, error) {
	for _, name := range []string{PaymentResponseHeader, XPaymentResponseHeader} {
		if header := headers.Get(name); header != "" {
			receipt, err := DecodePaymentResponseHeader(header)
			if err != nil {
				return nil, err
			}
			return &receipt, nil
		}
	}
	return nil, nil
}

// SettlementFromResponse decodes the settlement receipt attached to resp, if any
func SettlementFromResponse(resp *http.Response) (*x402.SettleResponse, error) {
	if resp == nil {
		return nil, nil
	}
	return GetPaymentSettleResponse(resp.Header)
}

// paymentFromRequest decodes the payment payload a request carries, if any
func paymentFromRequest(req *http.Request) (*x402.PaymentPayload, error) {
	if req == nil {
		return nil, nil
	}
	for _, name := range []string{PaymentSignatureHeader, XPaymentHeader} {
		if header := req.Header.Get(name); header != "" {
			payload, err := DecodePaymentSignatureHeader(header)
			if err != nil {
				return nil, err
			}
			return &payload, nil
		}
	}
	return nil, nil
}
