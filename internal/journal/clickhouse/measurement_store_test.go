package clickhouse

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

func passRecord(id uuid.UUID, pass int) *journal.MeasurementRecord {
	return &journal.MeasurementRecord{
		RequestID:        id,
		ProtocolID:       "idl-stableswap",
		Kind:             domain.MetricUsers,
		Pass:             pass,
		Value:            412.0 + float64(pass),
		Slot:             287654321 + uint64(pass),
		Coverage:         1.0,
		DataQuality:      0.9757,
		PriceReliability: 1.0,
		IntervalLow:      400.0,
		IntervalHigh:     425.0,
		Flags:            []domain.Flag{domain.FlagLowLiquidity},
		TakenAt:          time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(pass) * 2 * time.Minute),
	}
}

func TestMeasurementStore_InsertBatchAndList(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMeasurementStore(conn)
	id := uuid.New()

	batch := []*journal.MeasurementRecord{
		passRecord(id, 0),
		passRecord(id, 1),
		passRecord(id, 2),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	got, err := store.ListByRequest(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, rec := range got {
		assert.Equal(t, i, rec.Pass)
		assert.Equal(t, id, rec.RequestID)
		assert.Equal(t, domain.MetricUsers, rec.Kind)
		assert.Equal(t, 412.0+float64(i), rec.Value)
		assert.Equal(t, []domain.Flag{domain.FlagLowLiquidity}, rec.Flags)
	}
	assert.Equal(t, 0.9757, got[0].DataQuality)
	assert.Equal(t, uint64(287654321), got[0].Slot)
}

func TestMeasurementStore_EmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMeasurementStore(conn)
	assert.NoError(t, store.InsertBatch(context.Background(), nil))
}

func TestMeasurementStore_DuplicatePassRejected(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMeasurementStore(conn)
	id := uuid.New()

	require.NoError(t, store.InsertBatch(ctx, []*journal.MeasurementRecord{passRecord(id, 0)}))

	err := store.InsertBatch(ctx, []*journal.MeasurementRecord{passRecord(id, 0)})
	assert.ErrorIs(t, err, journal.ErrDuplicateKey)
}

func TestMeasurementStore_IntraBatchDuplicateRejected(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMeasurementStore(conn)
	id := uuid.New()

	batch := []*journal.MeasurementRecord{
		passRecord(id, 0),
		passRecord(id, 0),
	}
	err := store.InsertBatch(ctx, batch)
	assert.ErrorIs(t, err, journal.ErrDuplicateKey)

	got, err := store.ListByRequest(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMeasurementStore_ListUnknownRequestIsEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMeasurementStore(conn)

	got, err := store.ListByRequest(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)
}
