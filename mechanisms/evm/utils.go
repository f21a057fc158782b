package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// GetNetworkConfig returns the configuration for a CAIP-2 or legacy network name
func GetNetworkConfig(network x402.Network) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[string(network.Canonical())]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// IsValidNetwork reports whether the network has a known configuration
func IsValidNetwork(network x402.Network) bool {
	_, err := GetNetworkConfig(network)
	return err == nil
}

// GetAssetInfo returns information about an asset on a network.
// Unknown token addresses get a generic EIP-712 domain.
func GetAssetInfo(network x402.Network, assetAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if assetAddress == "" || strings.EqualFold(assetAddress, "USDC") {
		return &config.DefaultAsset, nil
	}
	if !IsValidAddress(assetAddress) {
		return nil, fmt.Errorf("invalid asset address: %s", assetAddress)
	}
	if strings.EqualFold(assetAddress, config.DefaultAsset.Address) {
		return &config.DefaultAsset, nil
	}

	return &AssetInfo{
		Address:  common.HexToAddress(assetAddress).Hex(),
		Name:     "Unknown Token",
		Version:  "1",
		Decimals: 18,
	}, nil
}

// IsValidAddress reports whether s is a 20-byte hex address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// CreateNonce returns a fresh random 32-byte nonce as 0x-prefixed hex
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(nonce), nil
}

// CreateValidityWindow returns (validAfter, validBefore) unix timestamps.
// validAfter is backdated slightly to tolerate clock skew with the chain.
func CreateValidityWindow(d time.Duration) (*big.Int, *big.Int) {
	now := time.Now().Unix()
	return big.NewInt(now - 600), big.NewInt(now + int64(d.Seconds()))
}

// HexToBytes decodes a hex string with or without the 0x prefix
func HexToBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// BytesToHex encodes bytes as 0x-prefixed hex
func BytesToHex(b []byte) string {
	return hexutil.Encode(b)
}

// ParseMoney converts a human price such as "$0.001", "0.01 USDC" or "1.5"
// into atomic units with the given decimals. Digits beyond the token
// precision are rejected rather than rounded.
func ParseMoney(price string, decimals int) (*big.Int, error) {
	cleaned := strings.TrimSpace(price)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.TrimSuffix(cleaned, " USDC")
	cleaned = strings.TrimSuffix(cleaned, " USD")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("invalid price: %q", price)
	}

	whole, frac, _ := strings.Cut(cleaned, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		if strings.Trim(frac[decimals:], "0") != "" {
			return nil, fmt.Errorf("price %q exceeds %d decimals", price, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	amount, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid price: %q", price)
	}
	return amount, nil
}

// FormatAmount renders atomic units as a decimal string
func FormatAmount(amount string, decimals int) (string, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}
	if decimals == 0 {
		return value.String(), nil
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(value, scale, new(big.Int))
	fracStr := frac.String()
	fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	return whole.String() + "." + fracStr, nil
}
