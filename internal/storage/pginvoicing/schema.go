package pginvoicing

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS invoices (
  invoice_id TEXT PRIMARY KEY,
  track_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  booking_id TEXT NOT NULL,
  plate_number TEXT NOT NULL,
  amount NUMERIC(12,2) NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// Второй рубеж защиты "не больше одного счёта на трекинг" —
		// основной живёт в транзакции MaterializeInvoice.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_invoices_track_id ON invoices(track_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_user_id_created_at ON invoices(user_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS trackings (
  track_id TEXT PRIMARY KEY,
  doc JSONB NOT NULL,
  invoice_id TEXT NULL REFERENCES invoices(invoice_id),
  invoice_status TEXT NULL,
  invoice_created_at TIMESTAMPTZ NULL,
  sweep_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_sweep_at ON trackings(sweep_at) WHERE invoice_id IS NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
