// Package sink holds the issuing point sink implementations.
package sink

import (
	"context"
	"maps"
	"math/big"
	"slices"
	"sync"

	"certstore/internal/certificate/models"
	"certstore/internal/crl"
)

var _ crl.Sink = (*Memory)(nil)

// Call is one notification a Memory sink received.
type Call struct {
	Event  string
	Serial string
	Info   *models.RevocationInfo
}

// Memory keeps the revoked set of one issuing point in process memory.
type Memory struct {
	mu      sync.Mutex
	revoked map[string]*models.RevocationInfo
	expired map[string]struct{}
	calls   []Call
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		revoked: make(map[string]*models.RevocationInfo),
		expired: make(map[string]struct{}),
	}
}

func (m *Memory) AddRevokedCert(_ context.Context, serial *big.Int, info *models.RevocationInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := serial.String()
	m.revoked[key] = info
	delete(m.expired, key)
	m.calls = append(m.calls, Call{Event: crl.EventRevoked, Serial: key, Info: info})
	return nil
}

func (m *Memory) AddUnrevokedCert(_ context.Context, serial *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := serial.String()
	delete(m.revoked, key)
	m.calls = append(m.calls, Call{Event: crl.EventUnrevoked, Serial: key})
	return nil
}

// AddExpiredCert drops serial from the revoked set; expired certificates no
// longer need to appear on a CRL.
func (m *Memory) AddExpiredCert(_ context.Context, serial *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := serial.String()
	delete(m.revoked, key)
	m.expired[key] = struct{}{}
	m.calls = append(m.calls, Call{Event: crl.EventExpired, Serial: key})
	return nil
}

// Revoked returns a copy of the current revoked set keyed by decimal serial.
func (m *Memory) Revoked() map[string]*models.RevocationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.revoked)
}

// Expired returns the serials reported expired, sorted.
func (m *Memory) Expired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.expired))
}

// Calls returns every notification received, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}
