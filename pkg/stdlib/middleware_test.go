package stdlib

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	core "github.com/juSt-jeLLy/NakalTrade"
	x402http "github.com/juSt-jeLLy/NakalTrade/http"
	exactclient "github.com/juSt-jeLLy/NakalTrade/mechanisms/evm/exact/client"
	evmsigner "github.com/juSt-jeLLy/NakalTrade/signers/evm"
	"github.com/juSt-jeLLy/NakalTrade/test/mocks/facilitator"
)

const testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

func TestPaymentMiddlewareNetHTTP(t *testing.T) {
	mock := facilitator.New()
	var served atomic.Int32

	protected := PaymentMiddleware("$0.001", testPayTo, mock, WithDescription("weather"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"weather":"sunny"}`))
		}))
	server := httptest.NewServer(protected)
	defer server.Close()

	resp, err := http.Get(server.URL + "/weather")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var required core.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", resp.StatusCode)
	}
	if resp.Header.Get(x402http.PaymentRequiredHeader) == "" {
		t.Error("Expected PAYMENT-REQUIRED header")
	}
	if len(required.Accepts) != 1 || required.Accepts[0].Description != "weather" {
		t.Errorf("Unexpected requirements: %+v", required.Accepts)
	}

	signer, err := evmsigner.NewClientSignerFromPrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcbc0b3b8b63e2ff80")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	client := x402http.NewClient(core.Newx402Client().
		RegisterSchemeV1("polygon-amoy", exactclient.NewExactEvmScheme(signer)).
		RegisterScheme("eip155:80002", exactclient.NewExactEvmScheme(signer)))

	result, err := client.GetWithPayment(context.Background(), server.URL+"/weather")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer result.Response.Body.Close()

	if result.Response.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", result.Response.StatusCode)
	}
	body, _ := io.ReadAll(result.Response.Body)
	if string(body) != `{"weather":"sunny"}` {
		t.Errorf("Unexpected body %q", body)
	}
	if result.Receipt == nil || !result.Receipt.Success {
		t.Errorf("Expected successful receipt, got %+v", result.Receipt)
	}
	if served.Load() != 1 {
		t.Errorf("Expected handler to run once, ran %d times", served.Load())
	}
}

func TestPaymentMiddlewareInvalidConfig(t *testing.T) {
	protected := PaymentMiddleware("", testPayTo, facilitator.New())(http.NotFoundHandler())

	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}
