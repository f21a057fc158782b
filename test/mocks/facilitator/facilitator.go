// Package facilitator is an in-memory x402 facilitator for tests. It checks
// exact EIP-3009 authorizations by signature recovery, rejects replayed
// nonces, and settles with a deterministic transaction hash.
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	x402 "github.com/juSt-jeLLy/NakalTrade"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
	"github.com/juSt-jeLLy/NakalTrade/test/mocks/cash"
)

// Facilitator implements x402.FacilitatorClient
type Facilitator struct {
	mu         sync.Mutex
	usedNonces map[string]bool
	settled    []x402.SettleResponse
	healthy    bool

	// SettleFailure makes Settle report success=false with this reason
	SettleFailure string
	now           func() time.Time
}

// New creates a healthy facilitator
func New() *Facilitator {
	return &Facilitator{
		usedNonces: make(map[string]bool),
		healthy:    true,
		now:        time.Now,
	}
}

// SetHealthy toggles the Health result
func (f *Facilitator) SetHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

// Settled returns the receipts produced so far
func (f *Facilitator) Settled() []x402.SettleResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]x402.SettleResponse(nil), f.settled...)
}

// Health implements x402.FacilitatorClient
func (f *Facilitator) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return fmt.Errorf("facilitator unhealthy")
	}
	return nil
}

// GetSupported implements x402.FacilitatorClient
func (f *Facilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: evm.SchemeExact, Network: "polygon-amoy"},
			{X402Version: 2, Scheme: evm.SchemeExact, Network: "eip155:80002"},
			{X402Version: 2, Scheme: cash.Scheme, Network: "x402:cash"},
		},
	}, nil
}

// Verify implements x402.FacilitatorClient
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	response, _ := f.verifyLocked(payload, requirements)
	return &response, nil
}

// Settle implements x402.FacilitatorClient
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	verified, nonce := f.verifyLocked(payload, requirements)
	if !verified.IsValid {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: verified.InvalidReason,
			Payer:       verified.Payer,
			Network:     requirements.Network,
		}, nil
	}
	f.usedNonces[nonce] = true

	receipt := x402.SettleResponse{
		Success:     f.SettleFailure == "",
		ErrorReason: f.SettleFailure,
		Payer:       verified.Payer,
		Network:     requirements.Network,
	}
	if receipt.Success {
		receipt.Transaction = crypto.Keccak256Hash([]byte(nonce)).Hex()
	}
	f.settled = append(f.settled, receipt)
	return &receipt, nil
}

func (f *Facilitator) verifyLocked(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, string) {
	switch requirements.Scheme {
	case evm.SchemeExact:
		return f.verifyExact(payload, requirements)
	case cash.Scheme:
		response := cash.Verify(payload, requirements, f.now())
		nonce, _ := payload.Payload["validUntil"].(string)
		nonce = response.Payer + ":" + nonce
		if response.IsValid && f.usedNonces[nonce] {
			return x402.VerifyResponse{IsValid: false, InvalidReason: "nonce_already_used", Payer: response.Payer}, nonce
		}
		return response, nonce
	default:
		return x402.VerifyResponse{IsValid: false, InvalidReason: "unsupported_scheme"}, ""
	}
}

func (f *Facilitator) verifyExact(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, string) {
	invalid := func(reason, payer string) (x402.VerifyResponse, string) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}, ""
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid("invalid_payload", "")
	}
	auth := evmPayload.Authorization

	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return invalid("invalid_network", auth.From)
	}
	asset, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return invalid("invalid_asset", auth.From)
	}
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		asset.Name = name
	}
	if version, ok := requirements.Extra["version"].(string); ok && version != "" {
		asset.Version = version
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid("recipient_mismatch", auth.From)
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	required, ok2 := new(big.Int).SetString(requirements.GetAmount(), 10)
	if !ok || !ok2 || value.Cmp(required) != 0 {
		return invalid("amount_mismatch", auth.From)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok || validBefore.Int64() <= f.now().Unix() {
		return invalid("authorization_expired", auth.From)
	}
	if f.usedNonces[auth.Nonce] {
		return invalid("nonce_already_used", auth.From)
	}

	signer, err := evm.RecoverEIP3009Signer(*evmPayload, config.ChainID, *asset)
	if err != nil || !strings.EqualFold(signer, auth.From) {
		return invalid("invalid_signature", auth.From)
	}

	return x402.VerifyResponse{IsValid: true, Payer: signer}, auth.Nonce
}

// Handler serves the facilitator over HTTP (/verify, /settle, /supported, /healthz)
func (f *Facilitator) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.GET("/healthz", func(c *gin.Context) {
		if err := f.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/supported", func(c *gin.Context) {
		supported, _ := f.GetSupported(c.Request.Context())
		c.JSON(http.StatusOK, supported)
	})

	router.POST("/verify", func(c *gin.Context) {
		var request x402.VerifyRequest
		if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil {
			c.JSON(http.StatusBadRequest, x402.VerifyResponse{InvalidReason: "invalid_request"})
			return
		}
		response, _ := f.Verify(c.Request.Context(), request.PaymentPayload, request.PaymentRequirements)
		c.JSON(http.StatusOK, response)
	})

	router.POST("/settle", func(c *gin.Context) {
		var request x402.SettleRequest
		if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil {
			c.JSON(http.StatusBadRequest, x402.SettleResponse{ErrorReason: "invalid_request"})
			return
		}
		response, _ := f.Settle(c.Request.Context(), request.PaymentPayload, request.PaymentRequirements)
		c.JSON(http.StatusOK, response)
	})

	return router
}
