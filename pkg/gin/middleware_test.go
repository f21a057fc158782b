package gin_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	exactclient "github.com/juSt-jeLLy/NakalTrade/mechanisms/evm/exact/client"
	x402gin "github.com/juSt-jeLLy/NakalTrade/pkg/gin"
	evmsigner "github.com/juSt-jeLLy/NakalTrade/signers/evm"
	"github.com/juSt-jeLLy/NakalTrade/test/mocks/facilitator"
)

const (
	payTo     = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	payerKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcbc0b3b8b63e2ff80"
	payerAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server      *httptest.Server
	facilitator *facilitator.Facilitator
	settled     []*core.SettleResponse
}

func newFixture(t *testing.T, handler gin.HandlerFunc, opts ...x402gin.Options) *fixture {
	t.Helper()
	f := &fixture{facilitator: facilitator.New()}

	opts = append([]x402gin.Options{
		x402gin.WithDescription("Premium data"),
		x402gin.WithOnSettled(func(c *gin.Context, receipt *core.SettleResponse) {
			f.settled = append(f.settled, receipt)
		}),
	}, opts...)

	router := gin.New()
	router.GET("/premium", x402gin.PaymentMiddleware("$0.001", payTo, f.facilitator, opts...), handler)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func premium(c *gin.Context) {
	payment, ok := x402gin.PaymentFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no payment in context"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "premium", "payer": payment.Payload.Payload["authorization"]})
}

func payingClient(t *testing.T) *x402http.HTTPClient {
	t.Helper()
	signer, err := evmsigner.NewClientSignerFromPrivateKey(payerKey)
	require.NoError(t, err)

	scheme := exactclient.NewExactEvmScheme(signer)
	client := core.Newx402Client().
		RegisterScheme("eip155:*", scheme).
		RegisterSchemeV1("polygon-amoy", scheme)
	return x402http.NewClient(client)
}

func TestPaymentMiddlewareRequiresPayment(t *testing.T) {
	f := newFixture(t, premium, x402gin.WithResourceRootURL("https://api.example.com"))

	resp, err := http.Get(f.server.URL + "/premium")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var body core.PaymentRequired
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.X402Version)
	assert.Equal(t, "X-PAYMENT header is required", body.Error)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "exact", body.Accepts[0].Scheme)
	assert.Equal(t, core.Network("polygon-amoy"), body.Accepts[0].Network)
	assert.Equal(t, "1000", body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, payTo, body.Accepts[0].PayTo)
	assert.Equal(t, "https://api.example.com/premium", body.Accepts[0].Resource)
	assert.Equal(t, "Premium data", body.Accepts[0].Description)

	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.PaymentRequiredHeader))
	require.NoError(t, err)
	assert.Equal(t, 2, required.X402Version)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, core.Network("eip155:80002"), required.Accepts[0].Network)
	assert.Equal(t, "1000", required.Accepts[0].Amount)
	require.NotNil(t, required.Resource)
	assert.Equal(t, "https://api.example.com/premium", required.Resource.URL)
}

func TestPaymentMiddlewareSettlesPaidRequest(t *testing.T) {
	f := newFixture(t, premium)

	result, err := payingClient(t).GetWithPayment(context.Background(), f.server.URL+"/premium")
	require.NoError(t, err)
	defer result.Response.Body.Close()

	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	assert.True(t, result.Paid)

	require.NotNil(t, result.Receipt)
	assert.True(t, result.Receipt.Success)
	assert.True(t, strings.HasPrefix(result.Receipt.Transaction, "0x"))
	assert.Len(t, result.Receipt.Transaction, 66)
	assert.Equal(t, payerAddr, result.Receipt.Payer)
	assert.Equal(t, core.Network("eip155:80002"), result.Receipt.Network)

	body, err := io.ReadAll(result.Response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"data":"premium"`)

	require.Len(t, f.settled, 1)
	assert.Equal(t, result.Receipt.Transaction, f.settled[0].Transaction)
	assert.Len(t, f.facilitator.Settled(), 1)
}

func TestPaymentMiddlewareRejectsReplay(t *testing.T) {
	f := newFixture(t, premium)

	result, err := payingClient(t).GetWithPayment(context.Background(), f.server.URL+"/premium")
	require.NoError(t, err)
	result.Response.Body.Close()

	header := result.Response.Request.Header.Get(x402http.PaymentSignatureHeader)
	require.NotEmpty(t, header)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/premium", nil)
	require.NoError(t, err)
	req.Header.Set(x402http.PaymentSignatureHeader, header)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var body core.PaymentRequired
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "nonce_already_used", body.Error)
	assert.Len(t, f.facilitator.Settled(), 1)
}

func signedHeader(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.PaymentRequiredHeader))
	require.NoError(t, err)

	signer, err := evmsigner.NewClientSignerFromPrivateKey(payerKey)
	require.NoError(t, err)
	client := core.Newx402Client().RegisterScheme("eip155:*", exactclient.NewExactEvmScheme(signer))

	_, payload, err := client.CreatePaymentForRequired(context.Background(), required)
	require.NoError(t, err)
	header, err := x402http.EncodePaymentSignatureHeader(payload)
	require.NoError(t, err)
	return header
}

func TestPaymentMiddlewareRejectsConcurrentReplay(t *testing.T) {
	mock := facilitator.New()
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	var served atomic.Int32

	router := gin.New()
	router.POST("/trade/:id", x402gin.PaymentMiddleware("$0.001", payTo, mock), func(c *gin.Context) {
		served.Add(1)
		entered <- struct{}{}
		<-release
		c.JSON(http.StatusOK, gin.H{"trade": c.Param("id")})
	})
	router.GET("/trade/:id", x402gin.PaymentMiddleware("$0.001", payTo, mock), premium)
	server := httptest.NewServer(router)
	defer server.Close()

	header := signedHeader(t, server.URL+"/trade/A")

	send := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set(x402http.PaymentSignatureHeader, header)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	first := make(chan *http.Response, 1)
	go func() { first <- send("/trade/A") }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the handler")
	}

	second := send("/trade/B")
	defer second.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, second.StatusCode)
	var body core.PaymentRequired
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "nonce_already_used", body.Error)

	close(release)
	resp := <-first
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int32(1), served.Load())
	assert.Len(t, mock.Settled(), 1)
}

func TestPaymentMiddlewareFailedHandlerReleasesPayment(t *testing.T) {
	mock := facilitator.New()
	var calls atomic.Int32

	router := gin.New()
	router.GET("/premium", x402gin.PaymentMiddleware("$0.001", payTo, mock), func(c *gin.Context) {
		if calls.Add(1) == 1 {
			c.JSON(http.StatusBadGateway, gin.H{"error": "exchange unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "premium"})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	header := signedHeader(t, server.URL+"/premium")
	send := func() int {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/premium", nil)
		require.NoError(t, err)
		req.Header.Set(x402http.PaymentSignatureHeader, header)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadGateway, send())
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusPaymentRequired, send())
	assert.Len(t, mock.Settled(), 1)
}

func TestPaymentMiddlewareDoesNotChargeFailedHandler(t *testing.T) {
	f := newFixture(t, func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream down"})
	})

	result, err := payingClient(t).GetWithPayment(context.Background(), f.server.URL+"/premium")
	require.NoError(t, err)
	defer result.Response.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, result.Response.StatusCode)
	assert.Nil(t, result.Receipt)
	assert.Empty(t, f.facilitator.Settled())
	assert.Empty(t, f.settled)
}

func TestPaymentMiddlewareAttachesUnsuccessfulReceipt(t *testing.T) {
	f := newFixture(t, premium)
	f.facilitator.SettleFailure = "insufficient_funds"

	result, err := payingClient(t).GetWithPayment(context.Background(), f.server.URL+"/premium")
	require.NoError(t, err)
	defer result.Response.Body.Close()

	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.NotNil(t, result.Receipt)
	assert.False(t, result.Receipt.Success)
	assert.Equal(t, "insufficient_funds", result.Receipt.ErrorReason)
}

func TestPaymentMiddlewareRetryExhaustedOnWrongRecipient(t *testing.T) {
	// The middleware advertises one recipient and the facilitator rejects the
	// authorization because the client was told to pay someone else
	f := facilitator.New()
	router := gin.New()
	router.GET("/premium", func(c *gin.Context) {
		if c.GetHeader(x402http.PaymentSignatureHeader) == "" {
			x402gin.PaymentMiddleware("$0.001", "0x0000000000000000000000000000000000000002", f)(c)
			return
		}
		x402gin.PaymentMiddleware("$0.001", payTo, f)(c)
	}, premium)
	server := httptest.NewServer(router)
	defer server.Close()

	_, err := payingClient(t).GetWithPayment(context.Background(), server.URL+"/premium")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPaymentRetryExhausted))

	var paymentErr *core.PaymentError
	require.True(t, errors.As(err, &paymentErr))
	assert.Equal(t, "recipient_mismatch", paymentErr.Details["reason"])
}

func TestPaymentMiddlewareBrowserPaywall(t *testing.T) {
	f := newFixture(t, premium, x402gin.WithCustomPaywallHTML("<html>pay up</html>"))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/premium", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<html>pay up</html>", string(body))
}

func TestPaymentMiddlewareInvalidHeader(t *testing.T) {
	f := newFixture(t, premium)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/premium", nil)
	require.NoError(t, err)
	req.Header.Set(x402http.PaymentSignatureHeader, "not-base64!")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var body core.PaymentRequired
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid payment")
}

func TestPaymentMiddlewareInvalidConfig(t *testing.T) {
	router := gin.New()
	router.GET("/premium", x402gin.PaymentMiddleware("$0.001", "not-an-address", facilitator.New()), premium)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/premium", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "invalid payTo address")
}

func TestPaymentMiddlewareOverHTTPFacilitator(t *testing.T) {
	mock := facilitator.New()
	facilitatorServer := httptest.NewServer(mock.Handler())
	defer facilitatorServer.Close()

	remote := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{URL: facilitatorServer.URL})

	router := gin.New()
	router.GET("/premium", x402gin.PaymentMiddleware("$0.001", payTo, remote), premium)
	server := httptest.NewServer(router)
	defer server.Close()

	result, err := payingClient(t).GetWithPayment(context.Background(), server.URL+"/premium")
	require.NoError(t, err)
	defer result.Response.Body.Close()

	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.NotNil(t, result.Receipt)
	assert.True(t, result.Receipt.Success)
	assert.Len(t, mock.Settled(), 1)
}
