package x402

import (
	core "github.com/juSt-jeLLy/NakalTrade"
)

// Config is the payment configuration for a protected resource
type Config struct {
	// Price is a human amount such as "$0.01"
	Price string `json:"price"`
	// Network is a legacy name ("polygon-amoy") or CAIP-2 identifier
	Network core.Network `json:"network"`
	// Recipient is the address that will receive the payment
	Recipient string `json:"recipient"`
	// Asset overrides the network's USDC contract
	Asset string `json:"asset,omitempty"`

	// Description is shown in the 402 response to explain what the resource does
	Description string `json:"description,omitempty"`
	// MimeType is the content type of the protected resource
	MimeType string `json:"mimeType,omitempty"`
	// MaxTimeoutSeconds is how long the payment signature is valid (default: 60)
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`
}

// DefaultMaxTimeoutSeconds is the default payment signature validity window
const DefaultMaxTimeoutSeconds = 60

// Validate checks if the config has all required fields
func (c *Config) Validate() error {
	if c.Price == "" {
		return ErrMissingPrice
	}
	if c.Recipient == "" {
		return ErrMissingRecipient
	}
	if c.Network == "" {
		return ErrMissingNetwork
	}
	return nil
}

// GetMaxTimeoutSeconds returns the max timeout seconds, defaulting to 60 if not set
func (c *Config) GetMaxTimeoutSeconds() int {
	if c.MaxTimeoutSeconds <= 0 {
		return DefaultMaxTimeoutSeconds
	}
	return c.MaxTimeoutSeconds
}
