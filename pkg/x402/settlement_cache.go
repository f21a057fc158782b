package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	core "github.com/juSt-jeLLy/NakalTrade"
)

// ReasonPaymentReplayed is the invalid reason reported for an authorization
// that is already being served or has been settled
const ReasonPaymentReplayed = "nonce_already_used"

// settlementCache tracks authorizations from verification until settlement.
// An authorization is claimed when it verifies; a second request carrying it
// is rejected while the claim is in flight and, once settled, until the
// authorization's validity window has passed. Claims whose settlement did not
// happen are released so the payer can retry.
type settlementCache struct {
	mu      sync.Mutex
	entries map[string]*settlement
	ttl     time.Duration
	now     func() time.Time
}

type settlement struct {
	settled bool
	expires time.Time
}

func newSettlementCache(ttl time.Duration) *settlementCache {
	return &settlementCache{
		entries: make(map[string]*settlement),
		ttl:     ttl,
		now:     time.Now,
	}
}

// settlementKey hashes the signed part of a payment
func settlementKey(payload core.PaymentPayload) (string, error) {
	data, err := json.Marshal(struct {
		Payload  map[string]interface{}   `json:"payload"`
		Accepted core.PaymentRequirements `json:"accepted"`
	}{payload.Payload, payload.Accepted})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// reserve claims key. It returns false when the key is in flight or settled.
func (c *settlementCache) reserve(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = &settlement{}
	return true
}

// release drops an unsettled claim
func (c *settlementCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.entries[key]; exists && !entry.settled {
		delete(c.entries, key)
	}
}

// complete marks key settled until the ttl expires
func (c *settlementCache) complete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &settlement{settled: true, expires: c.now().Add(c.ttl)}
}

// evictLocked drops expired settlements. Must be called with c.mu held.
func (c *settlementCache) evictLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if entry.settled && now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}
