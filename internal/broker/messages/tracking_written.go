package messages

import (
	"time"

	"github.com/Loong0404/invoiceflow/internal/models"
)

// TrackingWritten — событие записи в коллекцию трекингов.
// Delivery is at-least-once with no ordering or dedup guarantees: the same
// write may arrive more than once and writes for the same record may arrive
// out of order. After is nil when the write was a deletion.
type TrackingWritten struct {
	TrackID   string    `json:"track_id"`
	WrittenAt time.Time `json:"written_at"`

	Before models.Doc `json:"before,omitempty"`
	After  models.Doc `json:"after,omitempty"`
}

// IsDelete reports whether the write removed the record.
func (m TrackingWritten) IsDelete() bool {
	return m.After == nil
}
