package x402

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Protocol versions understood by the client
const (
	ProtocolVersion   = 2
	ProtocolVersionV1 = 1
)

// X402Client manages payment mechanisms and creates payment payloads
// This is used by applications that need to make payments (have wallets/signers)
type X402Client struct {
	mu sync.RWMutex

	// Nested map: version -> network -> scheme -> client implementation
	schemes map[int]map[Network]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector

	beforeHooks  []BeforePaymentCreationHook
	afterHooks   []AfterPaymentCreationHook
	failureHooks []OnPaymentCreationFailureHook
}

// PaymentRequirementsSelector chooses which payment option to use.
// It is only called with a non-empty slice of supported requirements.
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(version int, network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(version, network, client)
	}
}

// Newx402Client creates a new x402 client
func Newx402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[int]map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first listed option
func defaultPaymentSelector(_ int, requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for protocol v2
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

// RegisterSchemeV1 registers a payment mechanism for protocol v1
func (c *X402Client) RegisterSchemeV1(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(ProtocolVersionV1, network, client)
}

func (c *X402Client) registerScheme(version int, network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[version] == nil {
		c.schemes[version] = make(map[Network]map[string]SchemeNetworkClient)
	}
	network = network.Canonical()
	if c.schemes[version][network] == nil {
		c.schemes[version][network] = make(map[string]SchemeNetworkClient)
	}

	c.schemes[version][network][client.Scheme()] = client

	return c
}

// OnBeforePaymentCreation registers a hook that runs before signing
func (c *X402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeHooks = append(c.beforeHooks, hook)
	return c
}

// OnAfterPaymentCreation registers a hook that runs after a payload is created
func (c *X402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterHooks = append(c.afterHooks, hook)
	return c
}

// OnPaymentCreationFailure registers a hook that runs when signing fails
func (c *X402Client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureHooks = append(c.failureHooks, hook)
	return c
}

// SelectPaymentRequirements chooses which payment requirements to use
// This filters requirements to only those the client can fulfill
func (c *X402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versionSchemes := c.schemes[version]

	var supported []PaymentRequirements
	for _, req := range requirements {
		impl, ok := findByNetworkAndScheme(versionSchemes, req.Scheme, req.Network)
		if !ok {
			continue
		}
		if supporter, ok := impl.(NetworkSupporter); ok && !supporter.SupportsNetwork(req.Network) {
			continue
		}
		supported = append(supported, req)
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(version, supported), nil
}

// CanPay checks if the client can pay with any of the given requirements
func (c *X402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentPayload creates a signed payment payload bound to requirements.
// Every failure of the signing capability, including cancellation, is reported
// as ErrSigningRejected wrapping the cause.
func (c *X402Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, WrapPaymentError(ErrCodeMalformedRequirements, "invalid payment requirements", err)
	}

	c.mu.RLock()
	client, ok := findByNetworkAndScheme(c.schemes[version], requirements.Scheme, requirements.Network)
	beforeHooks := append([]BeforePaymentCreationHook(nil), c.beforeHooks...)
	afterHooks := append([]AfterPaymentCreationHook(nil), c.afterHooks...)
	failureHooks := append([]OnPaymentCreationFailureHook(nil), c.failureHooks...)
	c.mu.RUnlock()

	if !ok {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s for version %d", requirements.Scheme, requirements.Network, version),
		}
	}

	hookCtx := PaymentCreationContext{
		Ctx:          ctx,
		Version:      version,
		Requirements: requirements,
		Resource:     resource,
		Timestamp:    time.Now(),
	}

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return PaymentPayload{}, WrapPaymentError(ErrCodeSigningRejected, "before payment creation hook failed", err)
		}
		if result != nil && result.Abort {
			return PaymentPayload{}, NewPaymentError(ErrCodeSigningRejected, result.Reason, nil)
		}
	}

	// The lock is not held here: signing may wait on the holder indefinitely
	partial, err := client.CreatePaymentPayload(ctx, version, requirements)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		partial, err = c.recover(hookCtx, failureHooks, err)
		if err != nil {
			return PaymentPayload{}, WrapPaymentError(ErrCodeSigningRejected, "failed to create payment payload", err)
		}
	}

	payload := PaymentPayload{
		X402Version: partial.X402Version,
		Payload:     partial.Payload,
		Accepted:    requirements,
	}
	if payload.X402Version == ProtocolVersionV1 {
		payload.Scheme = requirements.Scheme
		payload.Network = requirements.Network
	} else {
		payload.Resource = resource
		payload.Extensions = extensions
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, WrapPaymentError(ErrCodeSigningRejected, "invalid payment payload created", err)
	}

	result := PaymentCreationResultContext{
		PaymentCreationContext: hookCtx,
		Payload:                payload,
		Duration:               time.Since(hookCtx.Timestamp),
	}
	for _, hook := range afterHooks {
		_ = hook(result)
	}

	return payload, nil
}

func (c *X402Client) recover(hookCtx PaymentCreationContext, hooks []OnPaymentCreationFailureHook, cause error) (PartialPaymentPayload, error) {
	// A cancelled caller is never recovered
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return PartialPaymentPayload{}, cause
	}

	failure := PaymentCreationFailureContext{
		PaymentCreationContext: hookCtx,
		Error:                  cause,
		Duration:               time.Since(hookCtx.Timestamp),
	}
	for _, hook := range hooks {
		result, err := hook(failure)
		if err != nil {
			continue
		}
		if result != nil && result.Recovered {
			return result.Payload, nil
		}
	}
	return PartialPaymentPayload{}, cause
}

// CreatePaymentForRequired creates a payment for a PaymentRequired response
// This includes resource and extensions from the PaymentRequired response
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentRequirements, PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentRequirements{}, PaymentPayload{}, err
	}

	payload, err := c.CreatePaymentPayload(ctx, required.X402Version, selected, required.Resource, required.Extensions)
	if err != nil {
		return selected, PaymentPayload{}, err
	}
	return selected, payload, nil
}

// GetRegisteredSchemes returns the registered (network, scheme) pairs per version
func (c *X402Client) GetRegisteredSchemes() map[int][]RegisteredScheme {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int][]RegisteredScheme)
	for version, versionSchemes := range c.schemes {
		for network, schemes := range versionSchemes {
			for scheme := range schemes {
				result[version] = append(result[version], RegisteredScheme{Network: network, Scheme: scheme})
			}
		}
	}
	return result
}

// RegisteredScheme is one entry of GetRegisteredSchemes
type RegisteredScheme struct {
	Network Network
	Scheme  string
}
