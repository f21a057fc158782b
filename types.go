package x402

import (
	"fmt"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:80002" for Polygon Amoy)
// Legacy v1 names such as "polygon-amoy" are accepted and canonicalized
type Network string

// legacyNetworks maps v1 network names to their CAIP-2 identifiers
var legacyNetworks = map[Network]Network{
	"ethereum":     "eip155:1",
	"sepolia":      "eip155:11155111",
	"polygon":      "eip155:137",
	"polygon-amoy": "eip155:80002",
	"base":         "eip155:8453",
	"base-sepolia": "eip155:84532",
	"avalanche":    "eip155:43114",
}

// Canonical returns the CAIP-2 form of the network.
// Unknown legacy names are returned unchanged.
func (n Network) Canonical() Network {
	if caip, ok := legacyNetworks[n]; ok {
		return caip
	}
	return n
}

// IsLegacy reports whether the network uses a v1 network name
func (n Network) IsLegacy() bool {
	_, ok := legacyNetworks[n]
	return ok
}

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n.Canonical()), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	nStr := string(n.Canonical())
	patternStr := string(pattern.Canonical())

	if nStr == patternStr {
		return true
	}

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	// Bidirectional so a wildcard requirement can match a concrete registration
	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// PaymentRequirements defines what payment is acceptable for a resource
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount,omitempty"`            // v2 field
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"` // v1 compatibility field
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Resource          string                 `json:"resource,omitempty"`    // v1 only
	Description       string                 `json:"description,omitempty"` // v1 only
	MimeType          string                 `json:"mimeType,omitempty"`    // v1 only
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// GetAmount returns the amount in atomic units regardless of protocol version
func (r PaymentRequirements) GetAmount() string {
	if r.Amount != "" {
		return r.Amount
	}
	return r.MaxAmountRequired
}

// PartialPaymentPayload contains the minimal payment data from mechanism clients
// This is what SchemeNetworkClient.CreatePaymentPayload returns
type PartialPaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentPayload contains the signed payment authorization from a client
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`          // V2: scheme/network in accepted
	Scheme      string                 `json:"scheme,omitempty"`  // V1: scheme at top level
	Network     Network                `json:"network,omitempty"` // V1: network at top level
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the resource being accessed
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequired is the 402 response sent to clients
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest contains the payment to verify
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleRequest contains the payment to settle
type SettleRequest = VerifyRequest

// SettleResponse is the facilitator's settlement receipt
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Asset       string                 `json:"asset,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions,omitempty"`
}

// Supports reports whether the facilitator advertises the given scheme/network pair
func (s SupportedResponse) Supports(version int, scheme string, network Network) bool {
	for _, kind := range s.Kinds {
		if kind.X402Version == version && kind.Scheme == scheme && network.Match(kind.Network) {
			return true
		}
	}
	return false
}
