package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	exactclient "github.com/juSt-jeLLy/NakalTrade/mechanisms/evm/exact/client"
	evmsigner "github.com/juSt-jeLLy/NakalTrade/signers/evm"
	"github.com/juSt-jeLLy/NakalTrade/test/mocks/facilitator"
)

const testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

type fixture struct {
	gateway     *httptest.Server
	facilitator *facilitator.Facilitator

	mu        sync.Mutex
	forwarded []http.Header
}

func (f *fixture) forwardedHeaders() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.forwarded...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{facilitator: facilitator.New()}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.forwarded = append(f.forwarded, r.Header.Clone())
		f.mu.Unlock()
		_, _ = io.WriteString(w, "backend:"+r.URL.Path)
	}))
	t.Cleanup(backend.Close)

	target, err := url.Parse(backend.URL)
	require.NoError(t, err)

	handler, err := New(Config{
		Backend:        target,
		PaymentAddress: testPayTo,
		Network:        "polygon-amoy",
		Price:          "$0.01",
		ResourceURL:    "https://gateway.example.com/",
	}, f.facilitator, nil)
	require.NoError(t, err)

	f.gateway = httptest.NewServer(handler)
	t.Cleanup(f.gateway.Close)
	return f
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, facilitator.New(), nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: &url.URL{Scheme: "http", Host: "localhost:3000"}}, nil, nil)
	assert.Error(t, err)
}

func TestGatewayRequiresPayment(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.gateway.URL + "/reports/daily")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.PaymentRequiredHeader))
	require.NoError(t, err)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, "10000", required.Accepts[0].Amount)
	assert.Equal(t, "https://gateway.example.com/reports/daily", required.Resource.URL)
	assert.Empty(t, f.forwardedHeaders())
}

func TestGatewayExemptPath(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.gateway.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "backend:/health", string(body))
	assert.Empty(t, f.facilitator.Settled())
}

func TestGatewayForwardsPaidRequest(t *testing.T) {
	f := newFixture(t)

	signer, err := evmsigner.NewClientSignerFromPrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcbc0b3b8b63e2ff80")
	require.NoError(t, err)
	client := x402http.NewClient(core.Newx402Client().
		RegisterScheme("eip155:*", exactclient.NewExactEvmScheme(signer)))

	result, err := client.GetWithPayment(context.Background(), f.gateway.URL+"/reports/daily")
	require.NoError(t, err)
	defer result.Response.Body.Close()

	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	body, _ := io.ReadAll(result.Response.Body)
	assert.Equal(t, "backend:/reports/daily", string(body))
	require.NotNil(t, result.Receipt)
	assert.True(t, result.Receipt.Success)

	forwarded := f.forwardedHeaders()
	require.Len(t, forwarded, 1)
	assert.NotEmpty(t, forwarded[0].Get("X-Forwarded-Host"))
	assert.Len(t, f.facilitator.Settled(), 1)
}

func TestParseExemptPaths(t *testing.T) {
	assert.Equal(t, []string{"/health", "/metrics"}, ParseExemptPaths(" /health, ,/metrics "))
	assert.Nil(t, ParseExemptPaths(""))
}
