package pginvoicing

import (
	"context"

	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type MaterializeInput struct {
	TrackID     string
	UserID      string
	BookingID   string
	PlateNumber string
}

// MaterializeInvoice создаёт счёт для трекинга ровно один раз.
//
// Авторитетная проверка идемпотентности живёт здесь: invoice_id перечитывается
// внутри транзакции под блокировкой строки (FOR UPDATE), так что из двух
// конкурентных вызовов для одного track_id один обязан сериализоваться после
// другого, увидеть уже проставленный invoice_id и выйти без записей.
// Returns (invoice, created): created=false means the record is gone or the
// invoice already existed; neither is an error.
func (s *Storage) MaterializeInvoice(ctx context.Context, in MaterializeInput) (*models.Invoice, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing *string
	err = tx.QueryRow(ctx, `
SELECT invoice_id FROM trackings WHERE track_id = $1 FOR UPDATE
`, in.TrackID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		// Запись удалили между доставкой события и транзакцией.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select tracking for update")
	}
	if existing != nil {
		return nil, false, nil
	}

	inv := &models.Invoice{
		InvoiceID:   uuid.NewString(),
		TrackID:     in.TrackID,
		UserID:      in.UserID,
		BookingID:   in.BookingID,
		PlateNumber: in.PlateNumber,
		Amount:      models.InvoiceAmount,
		Status:      models.InvoiceStatusPending,
	}
	err = tx.QueryRow(ctx, `
INSERT INTO invoices (invoice_id, track_id, user_id, booking_id, plate_number, amount, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
RETURNING created_at
`, inv.InvoiceID, inv.TrackID, inv.UserID, inv.BookingID, inv.PlateNumber, inv.Amount, inv.Status).Scan(&inv.CreatedAt)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert invoice")
	}

	_, err = tx.Exec(ctx, `
UPDATE trackings
SET invoice_id = $2, invoice_status = $3, invoice_created_at = now(), updated_at = now()
WHERE track_id = $1
`, in.TrackID, inv.InvoiceID, models.TrackingInvoiceStatusGenerated)
	if err != nil {
		return nil, false, errors.Wrap(err, "link invoice to tracking")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}
	return inv, true, nil
}

func (s *Storage) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `
SELECT invoice_id, track_id, user_id, booking_id, plate_number, amount, status, created_at
FROM invoices
WHERE invoice_id = $1
`, invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (s *Storage) ListUserInvoices(ctx context.Context, userID string, limit, offset int) ([]*models.Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT invoice_id, track_id, user_id, booking_id, plate_number, amount, status, created_at
FROM invoices
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select invoices")
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	if err := row.Scan(
		&inv.InvoiceID, &inv.TrackID, &inv.UserID, &inv.BookingID,
		&inv.PlateNumber, &inv.Amount, &inv.Status, &inv.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan invoice")
	}
	return &inv, nil
}
