package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with remote facilitator services over HTTP.
// Implements x402.FacilitatorClient for both protocol versions.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
	logger       *zap.Logger
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// StaticAuthProvider sends the same headers to every endpoint
type StaticAuthProvider map[string]string

// GetAuthHeaders implements AuthProvider
func (p StaticAuthProvider) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return AuthHeaders{Verify: p, Settle: p, Supported: p}, nil
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string

	// Logger (optional, defaults to a no-op logger)
	Logger *zap.Logger
}

// DefaultFacilitatorURL is the Polygon-hosted public facilitator
const DefaultFacilitatorURL = "https://x402.polygon.technology"

// getSupportedRetries is the number of retry attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}
	url = strings.TrimRight(url, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
		logger:       logger.With(zap.String("facilitator", identifier)),
	}
}

// URL returns the facilitator base URL
func (c *HTTPFacilitatorClient) URL() string {
	return c.url
}

// Identifier returns the facilitator identifier
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Health probes GET /healthz; any non-200 status is an error
func (c *HTTPFacilitatorClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return x402.NewPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("facilitator unhealthy (%d)", resp.StatusCode), nil)
	}
	return nil
}

// Verify checks if a payment is valid
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	status, responseBody, err := c.post(ctx, "/verify", payload, requirements, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return nil, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("failed to unmarshal verify response (%d)", status), err)
	}

	// For non-200 responses, return an error with the details from the response
	if status != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return nil, x402.NewPaymentError(x402.ErrCodeInvalidPayment, verifyResponse.InvalidReason, map[string]interface{}{
				"payer":   verifyResponse.Payer,
				"message": verifyResponse.InvalidMessage,
			})
		}
		return nil, x402.NewPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("facilitator verify failed (%d): %s", status, string(responseBody)), nil)
	}

	c.logger.Debug("payment verified", zap.Bool("isValid", verifyResponse.IsValid), zap.String("payer", verifyResponse.Payer))
	return &verifyResponse, nil
}

// Settle executes a payment
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	status, responseBody, err := c.post(ctx, "/settle", payload, requirements, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return nil, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("facilitator settle failed (%d): %s", status, string(responseBody)), nil)
	}

	if status != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return nil, x402.NewPaymentError(x402.ErrCodeSettlementFailed, settleResponse.ErrorReason, map[string]interface{}{
				"payer":       settleResponse.Payer,
				"network":     settleResponse.Network,
				"transaction": settleResponse.Transaction,
				"status":      status,
			})
		}
		return nil, x402.NewPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("facilitator settle failed (%d): %s", status, string(responseBody)), nil)
	}

	c.logger.Info("payment settled",
		zap.Bool("success", settleResponse.Success),
		zap.String("transaction", settleResponse.Transaction),
		zap.String("network", string(settleResponse.Network)),
	)
	return &settleResponse, nil
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = x402.NewPaymentError(x402.ErrCodeFacilitator, fmt.Sprintf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody)), nil)

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			c.logger.Debug("supported rate limited", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}

func (c *HTTPFacilitatorClient) post(
	ctx context.Context,
	path string,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	pick func(AuthHeaders) map[string]string,
) (int, []byte, error) {
	body, err := json.Marshal(x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.applyAuth(ctx, req, pick); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}
