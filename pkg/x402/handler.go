// Package x402 holds the framework-independent half of the resource-server
// middleware: building 402 answers, decoding retry headers, and verifying and
// settling through a facilitator.
package x402

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	"github.com/juSt-jeLLy/NakalTrade/mechanisms/evm"
)

// Handler encapsulates the x402 payment flow for one protected resource.
type Handler struct {
	facilitator core.FacilitatorClient
	config      Config
	logger      *zap.Logger
	settlements *settlementCache
}

// NewHandler validates config and creates a handler
func NewHandler(facilitator core.FacilitatorClient, config Config, logger *zap.Logger) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		facilitator: facilitator,
		config:      config,
		logger:      logger,
		settlements: newSettlementCache(time.Duration(config.GetMaxTimeoutSeconds()) * time.Second),
	}

	// Surface price/network/address errors at construction
	if _, err := h.Requirements(core.ProtocolVersion, ""); err != nil {
		return nil, err
	}
	return h, nil
}

// Config returns the handler configuration
func (h *Handler) Config() Config {
	return h.config
}

// Requirements builds the requirements of the given protocol version for resource
func (h *Handler) Requirements(version int, resource string) (core.PaymentRequirements, error) {
	return evm.BuildExactRequirements(version, evm.RequirementsConfig{
		Price:             h.config.Price,
		Network:           h.config.Network,
		PayTo:             h.config.Recipient,
		Asset:             h.config.Asset,
		MaxTimeoutSeconds: h.config.GetMaxTimeoutSeconds(),
		Resource:          resource,
		Description:       h.config.Description,
		MimeType:          h.config.MimeType,
	})
}

// PaymentRequired is a 402 answer: a v1 JSON body plus the v2 PAYMENT-REQUIRED header value
type PaymentRequired struct {
	Body   core.PaymentRequired
	Header string
}

// BuildPaymentRequired builds the 402 answer for resource with the given error message
func (h *Handler) BuildPaymentRequired(resource, message string) (*PaymentRequired, error) {
	v1, err := h.Requirements(core.ProtocolVersionV1, resource)
	if err != nil {
		return nil, err
	}
	v2, err := h.Requirements(core.ProtocolVersion, resource)
	if err != nil {
		return nil, err
	}

	header, err := x402http.EncodePaymentRequiredHeader(core.PaymentRequired{
		X402Version: core.ProtocolVersion,
		Error:       message,
		Resource: &core.ResourceInfo{
			URL:         resource,
			Description: h.config.Description,
			MimeType:    h.config.MimeType,
		},
		Accepts: []core.PaymentRequirements{v2},
	})
	if err != nil {
		return nil, err
	}

	return &PaymentRequired{
		Body: core.PaymentRequired{
			X402Version: core.ProtocolVersionV1,
			Error:       message,
			Accepts:     []core.PaymentRequirements{v1},
		},
		Header: header,
	}, nil
}

// Payment is a decoded retry header together with the requirements it must satisfy
type Payment struct {
	Payload      core.PaymentPayload
	Requirements core.PaymentRequirements

	// key identifies the claim taken by Verify
	key string
}

// ExtractPayment decodes the payment header of a request. It returns
// ErrPaymentRequired when no header is present and ErrInvalidPayment when the
// header cannot be decoded or does not match this resource.
func (h *Handler) ExtractPayment(headers http.Header, resource string) (*Payment, error) {
	header := headers.Get(x402http.PaymentSignatureHeader)
	if header == "" {
		header = headers.Get(x402http.XPaymentHeader)
	}
	if header == "" {
		return nil, ErrPaymentRequired
	}

	payload, err := x402http.ValidateAndDecodePaymentHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}

	requirements, err := h.Requirements(payload.X402Version, resource)
	if err != nil {
		return nil, err
	}
	if payload.Accepted.Scheme != requirements.Scheme || !payload.Accepted.Network.Match(requirements.Network) {
		return nil, fmt.Errorf("%w: payment for %s on %s does not match this resource", ErrInvalidPayment, payload.Accepted.Scheme, payload.Accepted.Network)
	}

	return &Payment{Payload: *payload, Requirements: requirements}, nil
}

// Verify asks the facilitator to check the payment. An invalid payment is
// reported as ErrVerificationFailed carrying the facilitator's reason.
//
// A valid payment is claimed for this request. A payment already claimed by
// another request, or already settled, fails with ReasonPaymentReplayed. The
// claim ends with Settle or Release.
func (h *Handler) Verify(ctx context.Context, payment *Payment) (*core.VerifyResponse, error) {
	response, err := h.facilitator.Verify(ctx, payment.Payload, payment.Requirements)
	if err != nil {
		return nil, err
	}
	if !response.IsValid {
		h.logger.Info("payment rejected", zap.String("reason", response.InvalidReason), zap.String("payer", response.Payer))
		return response, fmt.Errorf("%w: %s", ErrVerificationFailed, response.InvalidReason)
	}

	key, err := settlementKey(payment.Payload)
	if err != nil {
		return nil, err
	}
	if !h.settlements.reserve(key) {
		h.logger.Info("payment replayed", zap.String("payer", response.Payer))
		return &core.VerifyResponse{IsValid: false, InvalidReason: ReasonPaymentReplayed, Payer: response.Payer},
			fmt.Errorf("%w: %s", ErrVerificationFailed, ReasonPaymentReplayed)
	}
	payment.key = key

	h.logger.Debug("payment verified", zap.String("payer", response.Payer))
	return response, nil
}

// Release gives up the claim Verify took, for requests that will not be charged
func (h *Handler) Release(payment *Payment) {
	if payment.key != "" {
		h.settlements.release(payment.key)
	}
}

// Settle asks the facilitator to execute the payment. A receipt with
// success=false is returned without error so the caller can attach it.
// Unless settlement succeeded the claim is released.
func (h *Handler) Settle(ctx context.Context, payment *Payment) (*core.SettleResponse, error) {
	receipt, err := h.facilitator.Settle(ctx, payment.Payload, payment.Requirements)
	if err == nil && receipt == nil {
		err = fmt.Errorf("facilitator returned no receipt")
	}
	if err != nil {
		h.Release(payment)
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	if receipt.Network == "" {
		receipt.Network = payment.Requirements.Network
	}

	fields := []zap.Field{
		zap.Bool("success", receipt.Success),
		zap.String("transaction", receipt.Transaction),
		zap.String("payer", receipt.Payer),
	}
	if !receipt.Success {
		h.Release(payment)
		h.logger.Warn("payment settlement unsuccessful", append(fields, zap.String("errorReason", receipt.ErrorReason))...)
		return receipt, nil
	}

	if payment.key != "" {
		h.settlements.complete(payment.key)
	}
	h.logger.Info("payment settled", fields...)
	return receipt, nil
}

// ReceiptHeader returns the header name and encoded value carrying receipt
// for a payment of the given version
func ReceiptHeader(version int, receipt *core.SettleResponse) (string, string, error) {
	value, err := x402http.EncodePaymentResponseHeader(*receipt)
	if err != nil {
		return "", "", err
	}
	return x402http.SettleResponseHeaderName(version), value, nil
}
