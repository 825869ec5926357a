package invoicer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loong0404/invoiceflow/internal/broker/messages"
	"github.com/Loong0404/invoiceflow/internal/cache"
	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/Loong0404/invoiceflow/internal/storage/pginvoicing"
)

type Repository interface {
	MaterializeInvoice(ctx context.Context, in pginvoicing.MaterializeInput) (*models.Invoice, bool, error)
}

// Service — материализатор счетов: реагирует на записи трекингов и создаёт
// счёт не более одного раза на трекинг.
//
// The service is stateless between calls (counters are diagnostics only) and
// safe for arbitrarily many concurrent and duplicate invocations: correctness
// comes from the repository's transactional re-check, not from anything here.
type Service struct {
	repo     Repository
	cache    cache.BytesCache
	cacheTTL time.Duration

	startedAtUnixNano  int64
	totalEvents        atomic.Int64
	invoicesCreated    atomic.Int64
	duplicatesSkipped  atomic.Int64
	validationFailures atomic.Int64
	lastErrorMu        sync.Mutex
	lastError          string
}

func New(repo Repository, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:              repo,
		cache:             c,
		cacheTTL:          cacheTTL,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// HandleWrite обрабатывает одно доставленное событие записи трекинга.
func (s *Service) HandleWrite(ctx context.Context, msg messages.TrackingWritten) error {
	if msg.IsDelete() {
		// Удаление: материализовать нечего.
		return nil
	}
	return s.Process(ctx, msg.TrackID, msg.After)
}

// Process прогоняет снапшот документа через предикат готовности и, если надо,
// через транзакционное создание счёта. Snapshot staleness is fine: every check
// here short of the repository transaction is an optimization, not the
// correctness barrier.
func (s *Service) Process(ctx context.Context, trackID string, doc models.Doc) error {
	s.totalEvents.Add(1)

	if doc.StatusLower() != models.TrackingStatusReadyForCollection {
		return nil
	}

	// Дешёвая проверка по снапшоту; авторитетная — внутри транзакции.
	if _, linked := doc.String(invoiceIDField); linked {
		return nil
	}

	userID, okUser := doc.Resolve(userIDFields)
	bookingID, okBooking := doc.Resolve(bookingIDFields)
	plateNumber, okPlate := doc.Resolve(plateNumberFields)
	if !okUser || !okBooking || !okPlate {
		var missing []string
		if !okUser {
			missing = append(missing, "uid")
		}
		if !okBooking {
			missing = append(missing, "BookingID")
		}
		if !okPlate {
			missing = append(missing, "plateNumber")
		}
		s.validationFailures.Add(1)
		// Терминально для этой доставки: запись не трогаем, корректирующая
		// запись апстрима перезапустит проверку.
		slog.Warn("invoice materialization skipped: missing required fields",
			"track_id", trackID, "missing", missing)
		return nil
	}

	inv, created, err := s.repo.MaterializeInvoice(ctx, pginvoicing.MaterializeInput{
		TrackID:     trackID,
		UserID:      userID,
		BookingID:   bookingID,
		PlateNumber: plateNumber,
	})
	if err != nil {
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		return err
	}
	if !created {
		s.duplicatesSkipped.Add(1)
		slog.Info("invoice already materialized", "track_id", trackID)
		return nil
	}

	s.invoicesCreated.Add(1)
	slog.Info("invoice created", "track_id", trackID, "invoice_id", inv.InvoiceID)

	if s.cache != nil && s.cacheTTL > 0 {
		// Лучшее усилие: прогреваем кэш свежим счётом.
		b, _ := json.Marshal(inv)
		_ = s.cache.Set(ctx, invoiceKey(inv.InvoiceID), b, s.cacheTTL)
	}
	return nil
}

type Stats struct {
	StartedAt          time.Time `json:"startedAt"`
	TotalEvents        int64     `json:"totalEvents"`
	InvoicesCreated    int64     `json:"invoicesCreated"`
	DuplicatesSkipped  int64     `json:"duplicatesSkipped"`
	ValidationFailures int64     `json:"validationFailures"`
	LastError          string    `json:"lastError,omitempty"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		StartedAt:          time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalEvents:        s.totalEvents.Load(),
		InvoicesCreated:    s.invoicesCreated.Load(),
		DuplicatesSkipped:  s.duplicatesSkipped.Load(),
		ValidationFailures: s.validationFailures.Load(),
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func invoiceKey(invoiceID string) string {
	return fmt.Sprintf("invoice:%s:current", invoiceID)
}
