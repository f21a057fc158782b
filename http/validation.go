package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

const paymentRequiredSchemaJSON = `{
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1, "maximum": 2},
    "error": {"type": "string"},
    "resource": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string"},
        "description": {"type": "string"},
        "mimeType": {"type": "string"}
      }
    },
    "accepts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["scheme", "network", "asset", "payTo"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "asset": {"type": "string", "minLength": 1},
          "payTo": {"type": "string", "minLength": 1},
          "amount": {"type": "string", "pattern": "^[0-9]+$"},
          "maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
          "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
          "extra": {"type": ["object", "null"]}
        },
        "anyOf": [
          {"required": ["amount"]},
          {"required": ["maxAmountRequired"]}
        ]
      }
    },
    "extensions": {"type": ["object", "null"]}
  }
}`

const paymentPayloadSchemaJSON = `{
  "type": "object",
  "required": ["x402Version", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1, "maximum": 2},
    "payload": {"type": "object"},
    "accepted": {"type": "object"},
    "scheme": {"type": "string"},
    "network": {"type": "string"},
    "resource": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string"},
        "description": {"type": "string"},
        "mimeType": {"type": "string"}
      }
    }
  },
  "oneOf": [
    {"properties": {"x402Version": {"enum": [1]}}, "required": ["scheme", "network"]},
    {"properties": {"x402Version": {"enum": [2]}}, "required": ["accepted"]}
  ]
}`

var (
	paymentRequiredSchema = mustLoadSchema(paymentRequiredSchemaJSON)
	paymentPayloadSchema  = mustLoadSchema(paymentPayloadSchemaJSON)
)

func mustLoadSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return s
}

// validateDocument checks data against schema and flattens the errors into one message
func validateDocument(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(problems, "; "))
}

// parsePaymentRequired validates and decodes a PaymentRequired JSON document.
// Any failure is reported as ErrMalformedPaymentRequirements.
func parsePaymentRequired(data []byte) (x402.PaymentRequired, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return x402.PaymentRequired{}, x402.NewPaymentError(x402.ErrCodeMalformedRequirements, "no payment requirements in 402 response", nil)
	}
	if err := validateDocument(paymentRequiredSchema, data); err != nil {
		return x402.PaymentRequired{}, x402.WrapPaymentError(x402.ErrCodeMalformedRequirements, "invalid payment requirements", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, x402.WrapPaymentError(x402.ErrCodeMalformedRequirements, "invalid payment requirements", err)
	}
	return required, nil
}

// ValidateAndDecodePaymentHeader validates and decodes a payment header string.
// It checks the base64 format, the JSON structure and the version-specific
// required fields before decoding into a PaymentPayload.
func ValidateAndDecodePaymentHeader(paymentHeader string) (*x402.PaymentPayload, error) {
	if paymentHeader == "" {
		return nil, fmt.Errorf("payment header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	if err := validateDocument(paymentPayloadSchema, decoded); err != nil {
		return nil, fmt.Errorf("invalid payment header format: %v", err)
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payment payload: %v", err)
	}

	// v1 payloads carry scheme/network at the top level only
	if payload.X402Version == x402.ProtocolVersionV1 && payload.Accepted.Scheme == "" {
		payload.Accepted.Scheme = payload.Scheme
		payload.Accepted.Network = payload.Network
	}

	return &payload, nil
}
