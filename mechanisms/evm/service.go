package evm

import (
	"fmt"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// RequirementsConfig describes what a resource server charges for a route
type RequirementsConfig struct {
	// Price is a human amount such as "$0.01"
	Price string
	// Network may be a legacy v1 name or CAIP-2 identifier
	Network x402.Network
	// PayTo receives the payment
	PayTo string
	// Asset overrides the network's default USDC contract
	Asset string
	// MaxTimeoutSeconds bounds the authorization validity window
	MaxTimeoutSeconds int
	// Resource, Description and MimeType are echoed in v1 requirements
	Resource    string
	Description string
	MimeType    string
}

// BuildExactRequirements converts a price into exact-scheme requirements for the
// given protocol version. v1 requirements carry maxAmountRequired and keep the
// network name as configured; v2 requirements carry amount and a CAIP-2 network.
func BuildExactRequirements(version int, config RequirementsConfig) (x402.PaymentRequirements, error) {
	if !IsValidAddress(config.PayTo) {
		return x402.PaymentRequirements{}, fmt.Errorf("invalid payTo address: %q", config.PayTo)
	}

	networkConfig, err := GetNetworkConfig(config.Network)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	asset, err := GetAssetInfo(config.Network, config.Asset)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}

	amount, err := ParseMoney(config.Price, asset.Decimals)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}

	timeout := config.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	requirements := x402.PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           config.Network,
		Asset:             asset.Address,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: timeout,
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
			"chainId": networkConfig.ChainID.Int64(),
		},
	}

	if version == x402.ProtocolVersionV1 {
		requirements.MaxAmountRequired = amount.String()
		requirements.Resource = config.Resource
		requirements.Description = config.Description
		requirements.MimeType = config.MimeType
	} else {
		requirements.Amount = amount.String()
		requirements.Network = config.Network.Canonical()
	}

	return requirements, nil
}
