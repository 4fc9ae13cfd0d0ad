package clickhouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/journal"
)

// MeasurementStore implements journal.MeasurementStore using ClickHouse.
type MeasurementStore struct {
	conn *Conn
}

// NewMeasurementStore creates a new MeasurementStore.
func NewMeasurementStore(conn *Conn) *MeasurementStore {
	return &MeasurementStore{conn: conn}
}

// Compile-time interface check.
var _ journal.MeasurementStore = (*MeasurementStore)(nil)

// InsertBatch adds the raw passes of one request. Fails entire batch on duplicate (request_id, pass).
func (s *MeasurementStore) InsertBatch(ctx context.Context, recs []*journal.MeasurementRecord) error {
	if len(recs) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		requestID uuid.UUID
		pass      int
	}
	seen := make(map[key]struct{})
	for _, rec := range recs {
		if rec == nil || rec.RequestID == uuid.Nil {
			return journal.ErrInvalidInput
		}
		k := key{rec.RequestID, rec.Pass}
		if _, exists := seen[k]; exists {
			return journal.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, rec := range recs {
		exists, err := s.exists(ctx, rec.RequestID, rec.Pass)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return journal.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO measurements (
			request_id, protocol_id, kind, pass, value, slot,
			coverage, data_quality, price_reliability,
			interval_low, interval_high, flags, taken_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range recs {
		err = batch.Append(
			rec.RequestID.String(), rec.ProtocolID, string(rec.Kind),
			int32(rec.Pass), rec.Value, rec.Slot,
			rec.Coverage, rec.DataQuality, rec.PriceReliability,
			rec.IntervalLow, rec.IntervalHigh,
			journal.FlagStrings(rec.Flags), rec.TakenAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ListByRequest retrieves all passes for a request, ordered by pass ASC.
func (s *MeasurementStore) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*journal.MeasurementRecord, error) {
	query := `
		SELECT request_id, protocol_id, kind, pass, value, slot,
		       coverage, data_quality, price_reliability,
		       interval_low, interval_high, flags, taken_at
		FROM measurements
		WHERE request_id = ?
		ORDER BY pass ASC
	`

	rows, err := s.conn.Query(ctx, query, requestID.String())
	if err != nil {
		return nil, fmt.Errorf("query by request id: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// exists checks if a record with the given key exists.
func (s *MeasurementStore) exists(ctx context.Context, requestID uuid.UUID, pass int) (bool, error) {
	query := `
		SELECT count(*) FROM measurements
		WHERE request_id = ? AND pass = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, requestID.String(), int32(pass)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanMeasurements scans multiple rows.
func scanMeasurements(rows chRows) ([]*journal.MeasurementRecord, error) {
	var recs []*journal.MeasurementRecord

	for rows.Next() {
		var rec journal.MeasurementRecord
		var requestID, kind string
		var pass int32
		var flags []string

		err := rows.Scan(
			&requestID, &rec.ProtocolID, &kind, &pass, &rec.Value, &rec.Slot,
			&rec.Coverage, &rec.DataQuality, &rec.PriceReliability,
			&rec.IntervalLow, &rec.IntervalHigh, &flags, &rec.TakenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan measurement row: %w", err)
		}

		id, err := uuid.Parse(requestID)
		if err != nil {
			return nil, fmt.Errorf("parse request id %q: %w", requestID, err)
		}
		rec.RequestID = id
		rec.Kind = domain.MetricKind(kind)
		rec.Pass = int(pass)
		rec.Flags = journal.ParseFlags(flags)
		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurement rows: %w", err)
	}

	return recs, nil
}
