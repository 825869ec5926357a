package trackings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Loong0404/invoiceflow/internal/broker/messages"
	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ApplyTrackingWrite(ctx context.Context, trackID string, doc models.Doc) (before, after models.Doc, err error)
	DeleteTracking(ctx context.Context, trackID string) (before models.Doc, err error)
	GetTracking(ctx context.Context, trackID string) (*models.Tracking, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service — путь записи трекингов: сохраняет документ и публикует событие
// записи в Kafka (так апстримные записи превращаются в триггеры материализатора).
type Service struct {
	repo     Repository
	producer Producer
	topic    string
}

func New(repo Repository, producer Producer, topic string) *Service {
	return &Service{repo: repo, producer: producer, topic: topic}
}

// ApplyWrite применяет merge-запись документа и публикует before/after снапшоты.
// Публикация — лучшее усилие: запись уже закоммичена, а потерянное событие
// подберёт свипер, поэтому ошибку публикации не превращаем в ошибку записи.
func (s *Service) ApplyWrite(ctx context.Context, trackID string, doc models.Doc) (models.Doc, error) {
	if trackID == "" {
		return nil, errors.New("trackID is required")
	}
	if len(doc) == 0 {
		return nil, errors.New("doc is empty")
	}

	before, after, err := s.repo.ApplyTrackingWrite(ctx, trackID, doc)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, messages.TrackingWritten{
		TrackID:   trackID,
		WrittenAt: time.Now().UTC(),
		Before:    before,
		After:     after,
	})
	return after, nil
}

// Delete удаляет трекинг и публикует событие удаления (After = nil).
// Несуществующая запись — no-op без события, как в исходном триггерном сторе.
func (s *Service) Delete(ctx context.Context, trackID string) error {
	if trackID == "" {
		return errors.New("trackID is required")
	}

	before, err := s.repo.DeleteTracking(ctx, trackID)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}

	s.publish(ctx, messages.TrackingWritten{
		TrackID:   trackID,
		WrittenAt: time.Now().UTC(),
		Before:    before,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, trackID string) (*models.Tracking, error) {
	if trackID == "" {
		return nil, errors.New("trackID is required")
	}
	return s.repo.GetTracking(ctx, trackID)
}

func (s *Service) publish(ctx context.Context, msg messages.TrackingWritten) {
	if s.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal tracking.written", "track_id", msg.TrackID, "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(msg.TrackID), b); err != nil {
		slog.Warn("publish tracking.written failed, sweeper will converge",
			"track_id", msg.TrackID, "error", err.Error())
	}
}
