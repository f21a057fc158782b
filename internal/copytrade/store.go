package copytrade

import (
	"sync"
	"time"
)

// Statuses of a copy-trade payment
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the payment record of one copy trade
type Record struct {
	PaymentID   string    `json:"payment_id"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Amount      string    `json:"amount"`
	Network     string    `json:"network"`
	Verified    bool      `json:"verified"`
	TxHash      string    `json:"tx_hash"`
	Payer       string    `json:"payer,omitempty"`
	ErrorReason string    `json:"error_reason,omitempty"`
}

// Store keeps payment records in memory
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Put inserts or replaces a record
func (s *Store) Put(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.PaymentID] = record
}

// Update applies fn to an existing record. It reports whether the record exists.
func (s *Store) Update(paymentID string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[paymentID]
	if !ok {
		return false
	}
	fn(&record)
	s.records[paymentID] = record
	return true
}

// Get returns the record of paymentID
func (s *Store) Get(paymentID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[paymentID]
	return record, ok
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
