package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loong0404/invoiceflow/internal/models"
)

type Repository interface {
	ClaimSweepableTrackings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Tracking, error)
}

type Materializer interface {
	Process(ctx context.Context, trackID string, doc models.Doc) error
}

// Sweeper — страховка от потерянных доставок: периодически перечитывает из
// хранилища готовые трекинги без счёта и прогоняет их через материализатор.
// Повторный прогон безопасен, материализация идемпотентна.
type Sweeper struct {
	repo Repository
	mat  Materializer

	sweepInterval time.Duration
	batchSize     int
	concurrency   int
	lease         time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, mat Materializer) *Sweeper {
	return &Sweeper{
		repo:              repo,
		mat:               mat,
		sweepInterval:     60 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             120 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(sweepInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Sweeper {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastSweepAt    *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastSweepUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimSweepableTrackings(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim sweepable trackings", "error", err.Error())
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, tr := range items {
		sem <- struct{}{}
		wg.Add(1)
		trCopy := tr
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.mat.Process(ctx, trCopy.TrackID, trCopy.Snapshot()); err != nil {
				s.totalErrors.Add(1)
				s.lastErrorMu.Lock()
				s.lastError = err.Error()
				s.lastErrorMu.Unlock()
				slog.Error("sweep tracking", "track_id", trCopy.TrackID, "error", err.Error())
			}
			s.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}
