package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы, которые пишет материализатор (остальные статусы трекинга — свободный текст апстрима).
const (
	TrackingStatusReadyForCollection = "ready for collection"

	InvoiceStatusPending = "pending"

	TrackingInvoiceStatusGenerated = "generated"
)

// InvoiceAmount — фиксированная сумма счёта (RM120).
var InvoiceAmount = decimal.NewFromFloat(120.0)

// Tracking is the materializer's view of a tracking row: the free-form
// upstream document plus the invoice back-reference columns this service owns.
type Tracking struct {
	TrackID string

	Doc Doc

	InvoiceID        *string
	InvoiceStatus    *string
	InvoiceCreatedAt *time.Time

	SweepAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot merges the raw document with the invoice back-reference fields,
// the way a trigger delivery sees the record after a write.
func (t *Tracking) Snapshot() Doc {
	if t == nil {
		return nil
	}
	out := make(Doc, len(t.Doc)+3)
	for k, v := range t.Doc {
		out[k] = v
	}
	if t.InvoiceID != nil {
		out["invoiceID"] = *t.InvoiceID
	}
	if t.InvoiceStatus != nil {
		out["invoiceStatus"] = *t.InvoiceStatus
	}
	if t.InvoiceCreatedAt != nil {
		out["invoiceCreatedAt"] = t.InvoiceCreatedAt.UTC()
	}
	return out
}

type Invoice struct {
	InvoiceID   string          `json:"invoiceID"`
	TrackID     string          `json:"trackID"`
	UserID      string          `json:"userId"`
	BookingID   string          `json:"bookingID"`
	PlateNumber string          `json:"plateNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"date"`
}
