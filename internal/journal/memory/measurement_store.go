package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"solana-metrics-oracle/internal/journal"
)

// MeasurementStore is an in-memory implementation of journal.MeasurementStore.
type MeasurementStore struct {
	mu   sync.RWMutex
	data map[string]*journal.MeasurementRecord // keyed by (request id, pass)
}

// NewMeasurementStore creates an empty in-memory measurement journal.
func NewMeasurementStore() *MeasurementStore {
	return &MeasurementStore{data: make(map[string]*journal.MeasurementRecord)}
}

var _ journal.MeasurementStore = (*MeasurementStore)(nil)

func measurementKey(requestID uuid.UUID, pass int) string {
	return fmt.Sprintf("%s|%d", requestID, pass)
}

// InsertBatch journals one run's passes atomically. The whole batch fails
// on any duplicate (request id, pass), including intra-batch duplicates.
func (s *MeasurementStore) InsertBatch(_ context.Context, recs []*journal.MeasurementRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if rec == nil || rec.RequestID == uuid.Nil {
			return journal.ErrInvalidInput
		}
		key := measurementKey(rec.RequestID, rec.Pass)
		if _, exists := s.data[key]; exists {
			return journal.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return journal.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, rec := range recs {
		cp := *rec
		s.data[measurementKey(rec.RequestID, rec.Pass)] = &cp
	}
	return nil
}

// ListByRequest retrieves all journaled passes of a request in pass order.
func (s *MeasurementStore) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*journal.MeasurementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*journal.MeasurementRecord
	for _, rec := range s.data {
		if rec.RequestID == requestID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pass < out[j].Pass })
	return out, nil
}
