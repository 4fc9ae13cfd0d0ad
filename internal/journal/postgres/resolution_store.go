package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/journal"
)

// ResolutionStore implements journal.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *Pool
}

// NewResolutionStore creates a new ResolutionStore.
func NewResolutionStore(pool *Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Compile-time interface check.
var _ journal.ResolutionStore = (*ResolutionStore)(nil)

// Insert adds a resolved request. Returns ErrDuplicateKey if request_id exists.
func (s *ResolutionStore) Insert(ctx context.Context, rec *journal.ResolutionRecord) error {
	if rec == nil || rec.RequestID == uuid.Nil || rec.ProtocolID == "" {
		return journal.ErrInvalidInput
	}

	query := `
		INSERT INTO resolutions (
			request_id, protocol_id, kind, window_start, window_end,
			value, confidence, recommendation, flags, measurements, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.RequestID,
		rec.ProtocolID,
		string(rec.Kind),
		nullableTime(rec.WindowStart),
		nullableTime(rec.WindowEnd),
		rec.Value,
		rec.Confidence,
		string(rec.Recommendation),
		journal.FlagStrings(rec.Flags),
		rec.Measurements,
		rec.ResolvedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return journal.ErrDuplicateKey
		}
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

// Get retrieves a resolution by request ID. Returns ErrNotFound if not exists.
func (s *ResolutionStore) Get(ctx context.Context, requestID uuid.UUID) (*journal.ResolutionRecord, error) {
	query := `
		SELECT request_id, protocol_id, kind, window_start, window_end,
		       value, confidence, recommendation, flags, measurements, resolved_at
		FROM resolutions
		WHERE request_id = $1
	`

	row := s.pool.QueryRow(ctx, query, requestID)
	rec, err := scanResolution(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, journal.ErrNotFound
		}
		return nil, fmt.Errorf("get resolution: %w", err)
	}
	return rec, nil
}

// ListByProtocol retrieves resolutions for a protocol, newest first.
func (s *ResolutionStore) ListByProtocol(ctx context.Context, protocolID string) ([]*journal.ResolutionRecord, error) {
	query := `
		SELECT request_id, protocol_id, kind, window_start, window_end,
		       value, confidence, recommendation, flags, measurements, resolved_at
		FROM resolutions
		WHERE protocol_id = $1
		ORDER BY resolved_at DESC, request_id ASC
	`

	rows, err := s.pool.Query(ctx, query, protocolID)
	if err != nil {
		return nil, fmt.Errorf("list resolutions by protocol: %w", err)
	}
	defer rows.Close()

	return scanResolutions(rows)
}

// nullableTime maps the zero time to SQL NULL. Instant kinds carry no window.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// scanResolution scans a single row into a ResolutionRecord.
func scanResolution(row pgx.Row) (*journal.ResolutionRecord, error) {
	var (
		rec            journal.ResolutionRecord
		kind           string
		windowStart    *time.Time
		windowEnd      *time.Time
		recommendation string
		flags          []string
	)

	err := row.Scan(
		&rec.RequestID,
		&rec.ProtocolID,
		&kind,
		&windowStart,
		&windowEnd,
		&rec.Value,
		&rec.Confidence,
		&recommendation,
		&flags,
		&rec.Measurements,
		&rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = domain.MetricKind(kind)
	rec.Recommendation = domain.Recommendation(recommendation)
	rec.Flags = journal.ParseFlags(flags)
	if windowStart != nil {
		rec.WindowStart = *windowStart
	}
	if windowEnd != nil {
		rec.WindowEnd = *windowEnd
	}
	return &rec, nil
}

// scanResolutions scans multiple rows into a slice of ResolutionRecord.
func scanResolutions(rows pgx.Rows) ([]*journal.ResolutionRecord, error) {
	var recs []*journal.ResolutionRecord

	for rows.Next() {
		rec, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution row: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution rows: %w", err)
	}

	return recs, nil
}
