package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

// ============================================================================
// x402HTTPClient - HTTP-aware payment client
// ============================================================================

// x402HTTPClient wraps x402Client with HTTP-specific payment handling
type x402HTTPClient struct {
	client     *x402.X402Client
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPClientOption configures an x402HTTPClient
type HTTPClientOption func(*x402HTTPClient)

// WithHTTPClient sets the base client whose transport, timeout and redirect
// policy are used for paid requests
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *x402HTTPClient) {
		c.httpClient = client
	}
}

// WithLogger sets the logger used by the payment flow
func WithLogger(logger *zap.Logger) HTTPClientOption {
	return func(c *x402HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Newx402HTTPClient creates a new HTTP-aware x402 client
func Newx402HTTPClient(client *x402.X402Client, opts ...HTTPClientOption) *x402HTTPClient {
	c := &x402HTTPClient{
		client:     client,
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPaymentRequiredResponse extracts payment requirements from a 402 response.
// The v2 PAYMENT-REQUIRED header wins over the body; v1 servers only send the body.
func (c *x402HTTPClient) GetPaymentRequiredResponse(headers http.Header, body []byte) (x402.PaymentRequired, error) {
	if header := headers.Get(PaymentRequiredHeader); header != "" {
		return DecodePaymentRequiredHeader(header)
	}
	return parsePaymentRequired(body)
}

// ============================================================================
// Payment flow errors
// ============================================================================

// PaymentFlowError reports a failed payment stage together with the response
// that triggered it. Response is the 402 response with its body buffered, so
// callers can still read the raw status and body.
type PaymentFlowError struct {
	Err      error
	Response *http.Response
}

func (e *PaymentFlowError) Error() string {
	if e.Response != nil {
		return fmt.Sprintf("x402 payment failed (status %d): %v", e.Response.StatusCode, e.Err)
	}
	return fmt.Sprintf("x402 payment failed: %v", e.Err)
}

func (e *PaymentFlowError) Unwrap() error {
	return e.Err
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment returns a copy of client whose transport pays
// 402 responses through x402Client. The original client is not modified.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport:  client.Transport,
		x402Client: x402Client,
	}
	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling.
// It holds no per-request state; every RoundTrip is an independent
// request/retry sequence with at most one paid retry.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *x402HTTPClient
}

// NewPaymentRoundTripper wraps transport; a nil transport uses http.DefaultTransport
func NewPaymentRoundTripper(transport http.RoundTripper, x402Client *x402HTTPClient) *PaymentRoundTripper {
	return &PaymentRoundTripper{Transport: transport, x402Client: x402Client}
}

func (t *PaymentRoundTripper) transport() http.RoundTripper {
	if t.Transport == nil {
		return http.DefaultTransport
	}
	return t.Transport
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	logger := t.x402Client.logger.With(zap.String("method", req.Method), zap.String("url", req.URL.String()))

	first, err := replayableRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.transport().RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := bufferResponseBody(resp)
	if err != nil {
		return nil, err
	}

	paymentRequired, err := t.x402Client.GetPaymentRequiredResponse(resp.Header, body)
	if err != nil {
		logger.Warn("malformed payment requirements", zap.Error(err))
		return nil, &PaymentFlowError{Err: err, Response: resp}
	}

	selected, payload, err := t.x402Client.client.CreatePaymentForRequired(ctx, paymentRequired)
	if err != nil {
		logger.Info("payment not created", zap.Error(err))
		return nil, &PaymentFlowError{Err: err, Response: resp}
	}

	// The caller may have given up while the signer was waiting
	if err := ctx.Err(); err != nil {
		return nil, &PaymentFlowError{
			Err:      x402.WrapPaymentError(x402.ErrCodeSigningRejected, "request cancelled before payment was sent", err),
			Response: resp,
		}
	}

	encoded, err := EncodePaymentSignatureHeader(payload)
	if err != nil {
		return nil, &PaymentFlowError{Err: x402.WrapPaymentError(x402.ErrCodeSigningRejected, "failed to encode payment", err), Response: resp}
	}

	retry, err := cloneForRetry(ctx, first)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(PaymentHeaderName(payload.X402Version), encoded)

	logger.Debug("retrying with payment",
		zap.Int("x402Version", payload.X402Version),
		zap.String("scheme", selected.Scheme),
		zap.String("network", string(selected.Network)),
		zap.String("amount", selected.GetAmount()),
		zap.String("payTo", selected.PayTo),
	)

	second, err := t.transport().RoundTrip(retry)
	if err != nil {
		return nil, err
	}

	if second.StatusCode == http.StatusPaymentRequired {
		secondBody, err := bufferResponseBody(second)
		if err != nil {
			return nil, err
		}
		details := map[string]interface{}{"scheme": selected.Scheme, "network": selected.Network}
		if rejected, err := t.x402Client.GetPaymentRequiredResponse(second.Header, secondBody); err == nil && rejected.Error != "" {
			details["reason"] = rejected.Error
		}
		logger.Warn("payment rejected by resource server", zap.Any("details", details))
		return nil, &PaymentFlowError{
			Err:      x402.NewPaymentError(x402.ErrCodeRetryExhausted, "payment required again after paid retry", details),
			Response: second,
		}
	}

	return second, nil
}

// replayableRequest returns a shallow copy of req whose body can be read again
// for the paid retry
func replayableRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	clone.ContentLength = int64(len(data))
	return clone, nil
}

func cloneForRetry(ctx context.Context, req *http.Request) (*http.Request, error) {
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		retry.Body = body
	}
	return retry, nil
}

// bufferResponseBody reads resp.Body fully and replaces it with an in-memory copy
func bufferResponseBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		resp.Body = http.NoBody
		return nil, nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// ============================================================================
// Convenience Methods
// ============================================================================

// PaymentResult is the outcome of a request made through DoWithPayment
type PaymentResult struct {
	// Response is the final resource response; the caller closes its body
	Response *http.Response
	// Receipt is the decoded settlement receipt, nil when none was attached.
	// A receipt with Success=false is still returned with the resource.
	Receipt *x402.SettleResponse
	// Paid reports whether a payment was attached to the final request
	Paid bool
	// Requirements is the requirement the payment was bound to
	Requirements *x402.PaymentRequirements
}

// DoWithPayment performs an HTTP request with automatic payment handling.
// Payment stage failures are returned as *PaymentFlowError; transport
// errors are returned as produced by the underlying transport, without the
// *url.Error wrapper added by http.Client.
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*PaymentResult, error) {
	client := WrapHTTPClientWithPayment(c.httpClient, c)

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		var flowErr *PaymentFlowError
		if errors.As(err, &flowErr) {
			return nil, flowErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, urlErr.Err
		}
		return nil, err
	}

	result := &PaymentResult{Response: resp}

	if payment, err := paymentFromRequest(resp.Request); err == nil && payment != nil {
		result.Paid = true
		accepted := payment.Accepted
		result.Requirements = &accepted
	}

	receipt, err := SettlementFromResponse(resp)
	if err != nil {
		c.logger.Warn("undecodable settlement receipt", zap.Error(err))
	}
	result.Receipt = receipt

	if receipt != nil {
		fields := []zap.Field{
			zap.Bool("success", receipt.Success),
			zap.String("transaction", receipt.Transaction),
			zap.String("network", string(receipt.Network)),
		}
		if receipt.Success {
			c.logger.Info("payment settled", fields...)
		} else {
			c.logger.Warn("payment settlement failed", append(fields, zap.String("errorReason", receipt.ErrorReason))...)
		}
	}

	return result, nil
}

// GetWithPayment performs a GET request with automatic payment handling
func (c *x402HTTPClient) GetWithPayment(ctx context.Context, rawURL string) (*PaymentResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling
func (c *x402HTTPClient) PostWithPayment(ctx context.Context, rawURL, contentType string, body io.Reader) (*PaymentResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.DoWithPayment(ctx, req)
}
