package x402

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	core "github.com/juSt-jeLLy/NakalTrade"
	"github.com/juSt-jeLLy/NakalTrade/test/mocks/facilitator"
)

func TestSettlementKey(t *testing.T) {
	a := core.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{"nonce": "123"}, Accepted: core.PaymentRequirements{Scheme: "exact"}}
	b := core.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{"nonce": "456"}, Accepted: core.PaymentRequirements{Scheme: "exact"}}

	keyA, err := settlementKey(a)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	keyB, _ := settlementKey(b)
	keyA2, _ := settlementKey(a)

	if keyA != keyA2 {
		t.Error("Expected identical payments to share a key")
	}
	if keyA == keyB {
		t.Error("Expected different payments to have different keys")
	}
	if len(keyA) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(keyA))
	}
}

func TestSettlementCacheRejectsInFlightKey(t *testing.T) {
	cache := newSettlementCache(time.Minute)

	if !cache.reserve("key") {
		t.Fatal("Expected first reservation to succeed")
	}
	if cache.reserve("key") {
		t.Error("Expected in-flight key to be rejected")
	}
	if !cache.reserve("other") {
		t.Error("Expected a different key to be reserved")
	}
}

func TestSettlementCacheReleaseAllowsRetry(t *testing.T) {
	cache := newSettlementCache(time.Minute)

	cache.reserve("key")
	cache.release("key")
	if !cache.reserve("key") {
		t.Error("Expected released key to be reserved again")
	}
}

func TestSettlementCacheKeepsSettledKey(t *testing.T) {
	cache := newSettlementCache(time.Minute)
	now := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return now }

	cache.reserve("key")
	cache.complete("key")
	cache.release("key")
	if cache.reserve("key") {
		t.Error("Expected settled key to stay claimed")
	}

	now = now.Add(2 * time.Minute)
	if !cache.reserve("key") {
		t.Error("Expected expired settlement to be evicted")
	}
}

func TestSettlementCacheConcurrentReservations(t *testing.T) {
	cache := newSettlementCache(time.Minute)
	var won atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cache.reserve("key") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("Expected exactly one reservation, got %d", won.Load())
	}
}

func cashPayment(t *testing.T, handler *Handler) *Payment {
	t.Helper()
	requirements, err := handler.Requirements(core.ProtocolVersion, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	payment := &Payment{
		Payload: core.PaymentPayload{
			X402Version: core.ProtocolVersion,
			Payload:     map[string]interface{}{"signature": "~John", "name": "John", "validUntil": "9999999999", "amount": requirements.Amount},
			Accepted:    requirements,
		},
		Requirements: requirements,
	}
	payment.Requirements.Scheme = "cash"
	return payment
}

func TestHandlerRejectsConcurrentReplay(t *testing.T) {
	mock := facilitator.New()
	handler, err := NewHandler(mock, testConfig(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	first, second := cashPayment(t, handler), cashPayment(t, handler)

	if _, err := handler.Verify(context.Background(), first); err != nil {
		t.Fatalf("Expected first verification to pass, got %v", err)
	}

	// The facilitator still accepts the nonce, the handler must not
	response, err := handler.Verify(context.Background(), second)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}
	if response.IsValid || response.InvalidReason != ReasonPaymentReplayed {
		t.Errorf("Expected %s, got %+v", ReasonPaymentReplayed, response)
	}

	receipt, err := handler.Settle(context.Background(), first)
	if err != nil || !receipt.Success {
		t.Fatalf("Expected successful settlement, got %+v, %v", receipt, err)
	}
	if _, err := handler.Verify(context.Background(), cashPayment(t, handler)); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("Expected settled payment to be rejected, got %v", err)
	}
	if len(mock.Settled()) != 1 {
		t.Errorf("Expected one settlement at the facilitator, got %d", len(mock.Settled()))
	}
}

func TestHandlerReleaseAllowsRetry(t *testing.T) {
	handler, err := NewHandler(facilitator.New(), testConfig(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first := cashPayment(t, handler)
	if _, err := handler.Verify(context.Background(), first); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	handler.Release(first)

	if _, err := handler.Verify(context.Background(), cashPayment(t, handler)); err != nil {
		t.Errorf("Expected released payment to verify again, got %v", err)
	}
}

func TestHandlerReleasesUnsuccessfulSettlement(t *testing.T) {
	mock := &settleFailingFacilitator{Facilitator: facilitator.New()}
	handler, err := NewHandler(mock, testConfig(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first := cashPayment(t, handler)
	if _, err := handler.Verify(context.Background(), first); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := handler.Settle(context.Background(), first); !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("Expected ErrSettlementFailed, got %v", err)
	}

	if _, err := handler.Verify(context.Background(), cashPayment(t, handler)); err != nil {
		t.Errorf("Expected payment to verify after failed settlement, got %v", err)
	}
}

type settleFailingFacilitator struct {
	*facilitator.Facilitator
}

func (f *settleFailingFacilitator) Settle(ctx context.Context, payload core.PaymentPayload, requirements core.PaymentRequirements) (*core.SettleResponse, error) {
	return nil, errors.New("facilitator down")
}
