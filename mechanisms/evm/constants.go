package evm

import (
	"math/big"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// DefaultValidityPeriod is used when requirements carry no maxTimeoutSeconds
	DefaultValidityPeriod = 3600 // seconds

	// PrimaryTypeTransferWithAuthorization is the EIP-3009 EIP-712 primary type
	PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"
)

var (
	// Network chain IDs
	ChainIDPolygon     = big.NewInt(137)
	ChainIDPolygonAmoy = big.NewInt(80002)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	polygonUSDC = AssetInfo{
		Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d59Cf01",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	polygonAmoyUSDC = AssetInfo{
		Address:  "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Name:     "USDC",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	baseUSDC = AssetInfo{
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	baseSepoliaUSDC = AssetInfo{
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:     "USDC",
		Version:  "2",
		Decimals: DefaultDecimals,
	}

	// NetworkConfigs is keyed by CAIP-2 identifier. Legacy names are resolved
	// through x402.Network.Canonical before lookup.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:137":   {ChainID: ChainIDPolygon, DefaultAsset: polygonUSDC},
		"eip155:80002": {ChainID: ChainIDPolygonAmoy, DefaultAsset: polygonAmoyUSDC},
		"eip155:8453":  {ChainID: ChainIDBase, DefaultAsset: baseUSDC},
		"eip155:84532": {ChainID: ChainIDBaseSepolia, DefaultAsset: baseSepoliaUSDC},
	}

	// eip712DomainFields is the EIP712Domain type used by USDC
	eip712DomainFields = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// transferWithAuthorizationFields is the EIP-3009 message type
	transferWithAuthorizationFields = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}
)

// TransferWithAuthorizationTypes returns the EIP-712 type set for EIP-3009
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain":                       eip712DomainFields,
		PrimaryTypeTransferWithAuthorization: transferWithAuthorizationFields,
	}
}
