// Package memory holds map-backed journal stores for tests and for
// running the oracle without any database configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"solana-metrics-oracle/internal/journal"
)

// ResolutionStore is an in-memory implementation of journal.ResolutionStore.
type ResolutionStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*journal.ResolutionRecord
}

// NewResolutionStore creates an empty in-memory resolution journal.
func NewResolutionStore() *ResolutionStore {
	return &ResolutionStore{data: make(map[uuid.UUID]*journal.ResolutionRecord)}
}

var _ journal.ResolutionStore = (*ResolutionStore)(nil)

// Insert journals one resolution. Returns ErrDuplicateKey when the
// request id was already journaled.
func (s *ResolutionStore) Insert(_ context.Context, rec *journal.ResolutionRecord) error {
	if rec == nil || rec.RequestID == uuid.Nil || rec.ProtocolID == "" {
		return journal.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.RequestID]; exists {
		return journal.ErrDuplicateKey
	}
	cp := *rec
	s.data[rec.RequestID] = &cp
	return nil
}

// Get retrieves one journaled resolution by request id.
func (s *ResolutionStore) Get(_ context.Context, requestID uuid.UUID) (*journal.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[requestID]
	if !ok {
		return nil, journal.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListByProtocol retrieves all resolutions for a protocol, newest first.
func (s *ResolutionStore) ListByProtocol(_ context.Context, protocolID string) ([]*journal.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*journal.ResolutionRecord
	for _, rec := range s.data {
		if rec.ProtocolID == protocolID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.After(out[j].ResolvedAt)
	})
	return out, nil
}
