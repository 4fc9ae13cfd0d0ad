package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/journal"
)

func windowedResolution(id uuid.UUID) *journal.ResolutionRecord {
	return &journal.ResolutionRecord{
		RequestID:      id,
		ProtocolID:     "idl-stableswap",
		Kind:           domain.MetricVolume,
		WindowStart:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:      time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Value:          48213.77,
		Confidence:     0.87,
		Recommendation: domain.RecommendResolveFlagged,
		Flags:          []domain.Flag{domain.FlagLowConfidence, domain.FlagLowLiquidity},
		Measurements:   4,
		ResolvedAt:     time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC),
	}
}

func TestResolutionStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewResolutionStore(pool)
	id := uuid.New()

	err := store.Insert(ctx, windowedResolution(id))
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.RequestID)
	assert.Equal(t, "idl-stableswap", got.ProtocolID)
	assert.Equal(t, domain.MetricVolume, got.Kind)
	assert.True(t, got.WindowStart.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.WindowEnd.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 48213.77, got.Value)
	assert.Equal(t, 0.87, got.Confidence)
	assert.Equal(t, domain.RecommendResolveFlagged, got.Recommendation)
	assert.Equal(t, []domain.Flag{domain.FlagLowConfidence, domain.FlagLowLiquidity}, got.Flags)
	assert.Equal(t, 4, got.Measurements)
}

func TestResolutionStore_InstantKindHasNoWindow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewResolutionStore(pool)
	id := uuid.New()

	rec := windowedResolution(id)
	rec.Kind = domain.MetricPrice
	rec.WindowStart = time.Time{}
	rec.WindowEnd = time.Time{}

	err := store.Insert(ctx, rec)
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)

	// NULL columns come back as the zero time.
	assert.True(t, got.WindowStart.IsZero())
	assert.True(t, got.WindowEnd.IsZero())
}

func TestResolutionStore_DuplicateRequestID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewResolutionStore(pool)
	rec := windowedResolution(uuid.New())

	err := store.Insert(ctx, rec)
	require.NoError(t, err)

	err = store.Insert(ctx, rec)
	assert.ErrorIs(t, err, journal.ErrDuplicateKey)
}

func TestResolutionStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewResolutionStore(pool)

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestResolutionStore_ListByProtocolNewestFirst(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewResolutionStore(pool)

	older := windowedResolution(uuid.New())
	older.ResolvedAt = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	newer := windowedResolution(uuid.New())
	newer.ResolvedAt = time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	other := windowedResolution(uuid.New())
	other.ProtocolID = "idl-protocol"

	for _, rec := range []*journal.ResolutionRecord{older, newer, other} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	got, err := store.ListByProtocol(ctx, "idl-stableswap")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.RequestID, got[0].RequestID)
	assert.Equal(t, older.RequestID, got[1].RequestID)
}

func TestResolutionStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewResolutionStore(pool)

	err := store.Insert(ctx, nil)
	assert.ErrorIs(t, err, journal.ErrInvalidInput)

	rec := windowedResolution(uuid.Nil)
	err = store.Insert(ctx, rec)
	assert.ErrorIs(t, err, journal.ErrInvalidInput)
}
