package pginvoicing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ApplyTrackingWrite делает merge-запись документа трекинга: новые поля
// перекрывают старые, колонки счёта (invoice_*) апстрим не трогает.
// Returns the before/after snapshots the write event is built from.
func (s *Storage) ApplyTrackingWrite(ctx context.Context, trackID string, doc models.Doc) (before, after models.Doc, err error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanTracking(tx.QueryRow(ctx, `
SELECT track_id, doc, invoice_id, invoice_status, invoice_created_at, sweep_at, created_at, updated_at
FROM trackings
WHERE track_id = $1
FOR UPDATE
`, trackID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	merged := make(models.Doc)
	if prev != nil {
		before = prev.Snapshot()
		for k, v := range prev.Doc {
			merged[k] = v
		}
	}
	for k, v := range doc {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal doc")
	}

	cur, err := scanTracking(tx.QueryRow(ctx, `
INSERT INTO trackings (track_id, doc, sweep_at, created_at, updated_at)
VALUES ($1, $2, $3, $3, $3)
ON CONFLICT (track_id)
DO UPDATE SET doc = EXCLUDED.doc, sweep_at = EXCLUDED.sweep_at, updated_at = EXCLUDED.updated_at
RETURNING track_id, doc, invoice_id, invoice_status, invoice_created_at, sweep_at, created_at, updated_at
`, trackID, raw, now))
	if err != nil {
		return nil, nil, errors.Wrap(err, "upsert tracking")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "commit tx")
	}
	return before, cur.Snapshot(), nil
}

// DeleteTracking удаляет запись; before=nil, если записи и не было.
func (s *Storage) DeleteTracking(ctx context.Context, trackID string) (before models.Doc, err error) {
	prev, err := scanTracking(s.db.QueryRow(ctx, `
DELETE FROM trackings
WHERE track_id = $1
RETURNING track_id, doc, invoice_id, invoice_status, invoice_created_at, sweep_at, created_at, updated_at
`, trackID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return prev.Snapshot(), nil
}

func (s *Storage) GetTracking(ctx context.Context, trackID string) (*models.Tracking, error) {
	t, err := scanTracking(s.db.QueryRow(ctx, `
SELECT track_id, doc, invoice_id, invoice_status, invoice_created_at, sweep_at, created_at, updated_at
FROM trackings
WHERE track_id = $1
`, trackID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ClaimSweepableTrackings выбирает пачку готовых к выставлению счёта трекингов
// без счёта и "бронирует" их через sweep_at, чтобы параллельные свиперы не
// хватали одни и те же записи. Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimSweepableTrackings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Tracking, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT track_id, doc, invoice_id, invoice_status, invoice_created_at, sweep_at, created_at, updated_at
FROM trackings
WHERE invoice_id IS NULL
  AND lower(doc->>'status') = $1
  AND sweep_at <= $2
ORDER BY sweep_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, models.TrackingStatusReadyForCollection, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select sweepable trackings")
	}
	defer rows.Close()

	var picked []*models.Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		picked = append(picked, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, t := range picked {
		_, err := tx.Exec(ctx, `UPDATE trackings SET sweep_at = $2 WHERE track_id = $1`, t.TrackID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease tracking")
		}
		t.SweepAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracking(row rowScanner) (*models.Tracking, error) {
	var t models.Tracking
	var raw []byte
	var invoiceID *string
	var invoiceStatus *string
	var invoiceCreatedAt *time.Time
	if err := row.Scan(
		&t.TrackID, &raw,
		&invoiceID, &invoiceStatus, &invoiceCreatedAt,
		&t.SweepAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan tracking")
	}
	if err := json.Unmarshal(raw, &t.Doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal doc")
	}
	t.InvoiceID = invoiceID
	t.InvoiceStatus = invoiceStatus
	t.InvoiceCreatedAt = invoiceCreatedAt
	return &t, nil
}
