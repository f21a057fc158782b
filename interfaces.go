package x402

import "context"

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// It is the signing capability: given the selected requirements it returns a
// signed authorization bound to them. Implementations may block for as long as
// the holder needs to confirm, and must return promptly once ctx is done.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PartialPaymentPayload, error)
}

// NetworkSupporter is optionally implemented by a SchemeNetworkClient that can
// only sign on some of the networks its registration pattern matches.
// Requirements on other networks are not selected.
type NetworkSupporter interface {
	SupportsNetwork(network Network) bool
}

// FacilitatorClient is the network boundary to a facilitator service.
// Resource servers call Verify and Settle; clients only ever need Health and GetSupported.
type FacilitatorClient interface {
	// Verify checks a payment authorization without settling it
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)

	// Settle executes the authorized transfer on-chain
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)

	// GetSupported returns the supported (scheme, network, asset) kinds
	GetSupported(ctx context.Context) (SupportedResponse, error)

	// Health probes the facilitator liveness endpoint
	Health(ctx context.Context) error
}
