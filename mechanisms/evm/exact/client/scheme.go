package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/juSt-jeLLy/NakalTrade"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
)

// ExactEvmScheme implements x402.SchemeNetworkClient for EIP-3009 exact payments.
// The same instance serves v1 and v2 requirements.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
	now    func() time.Time
}

// NewExactEvmScheme creates a new ExactEvmScheme
func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{
		signer: signer,
		now:    time.Now,
	}
}

// Scheme returns the scheme identifier
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// SupportsNetwork reports whether the network has a known chain configuration
func (c *ExactEvmScheme) SupportsNetwork(network x402.Network) bool {
	return evm.IsValidNetwork(network)
}

// CreatePaymentPayload signs a TransferWithAuthorization bound to requirements.
// Returns the partial payload; the client wraps it with accepted/resource/extensions.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.GetAmount(), 10)
	if !ok || value.Sign() <= 0 {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid amount: %q", requirements.GetAmount())
	}

	if !evm.IsValidAddress(requirements.PayTo) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid payTo address: %q", requirements.PayTo)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	// Token domain overrides travel in extra
	domainAsset := *assetInfo
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok && name != "" {
			domainAsset.Name = name
		}
		if v, ok := requirements.Extra["version"].(string); ok && v != "" {
			domainAsset.Version = v
		}
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = evm.DefaultValidityPeriod
	}
	now := c.now().Unix()

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  big.NewInt(now - 600).String(),
		ValidBefore: big.NewInt(now + int64(timeout)).String(),
		Nonce:       nonce,
	}

	message, err := evm.EIP3009Message(authorization)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(
		ctx,
		evm.EIP3009Domain(config.ChainID, domainAsset),
		evm.TransferWithAuthorizationTypes(),
		evm.PrimaryTypeTransferWithAuthorization,
		message,
	)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	return x402.PartialPaymentPayload{
		X402Version: version,
		Payload:     evmPayload.ToMap(),
	}, nil
}
