// Package http provides the HTTP transport for x402: a payment-aware client
// wrapper, header codecs and a facilitator client.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "github.com/juSt-jeLLy/NakalTrade"
)

type (
	// HTTPClient is an alias for x402HTTPClient
	HTTPClient = x402HTTPClient
)

// NewClient creates a new HTTP-aware x402 client
func NewClient(client *x402.X402Client, opts ...HTTPClientOption) *x402HTTPClient {
	return Newx402HTTPClient(client, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// WrapClient wraps a standard HTTP client with x402 payment handling
func WrapClient(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, x402Client *x402HTTPClient) (*PaymentResult, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url, contentType string, body io.Reader, x402Client *x402HTTPClient) (*PaymentResult, error) {
	return x402Client.PostWithPayment(ctx, url, contentType, body)
}

// Do performs an HTTP request with automatic payment handling
func Do(ctx context.Context, req *http.Request, x402Client *x402HTTPClient) (*PaymentResult, error) {
	return x402Client.DoWithPayment(ctx, req)
}
