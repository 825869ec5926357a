package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Loong0404/invoiceflow/config"
	"github.com/Loong0404/invoiceflow/internal/broker/kafka"
	"github.com/Loong0404/invoiceflow/internal/broker/messages"
	"github.com/Loong0404/invoiceflow/internal/cache"
	"github.com/Loong0404/invoiceflow/internal/cache/rediscache"
	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/Loong0404/invoiceflow/internal/services/invoicer"
	"github.com/Loong0404/invoiceflow/internal/services/sweeper"
	"github.com/Loong0404/invoiceflow/internal/storage/pginvoicing"
)

// workerStorage — срез хранилища, нужный воркеру: транзакционная
// материализация плюс выборка для свипера.
type workerStorage interface {
	MaterializeInvoice(ctx context.Context, in pginvoicing.MaterializeInput) (*models.Invoice, bool, error)
	ClaimSweepableTrackings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Tracking, error)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (workerStorage, func(), error)
	newConsumer func(cfg *config.Config, topic, groupID string) (kafkaConsumer, func())
	newCache    func(cfg *config.Config) cache.BytesCache
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pginvoicing.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic, groupID string) (kafkaConsumer, func()) {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			c := kafka.NewConsumer(brokers, topic, groupID)
			return c, func() { _ = c.Close() }
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
	}
}

func RunInvoiceWorker(ctx context.Context, cfg *config.Config, swaggerPath string, f workerFactories) error {
	topic := cfg.Kafka.TrackingWrittenTopicName
	if topic == "" {
		topic = "tracking.written"
	}
	groupID := cfg.Invoicing.KafkaConsumerGroup
	if groupID == "" {
		groupID = "invoice-worker"
	}
	cacheTTL := time.Duration(cfg.Invoicing.InvoiceCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	sweepInterval := time.Duration(cfg.Invoicing.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	batchSize := cfg.Invoicing.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.Invoicing.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.Invoicing.SweepLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	var c cache.BytesCache
	if f.newCache != nil {
		c = f.newCache(cfg)
	}

	mat := invoicer.New(repo, c, cacheTTL)
	sw := sweeper.New(repo, mat).WithSettings(sweepInterval, batchSize, concurrency, lease)

	consumer, closeConsumer := f.newConsumer(cfg, topic, groupID)
	if closeConsumer != nil {
		defer closeConsumer()
	}

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", topic, "group", groupID)
		consumerErr <- consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.TrackingWritten
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return mat.HandleWrite(ctx, m)
		})
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Invoicing.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			invoicer:    mat,
			sweeper:     sw,
			cfg:         cfg,
		})
	}()

	sweepErr := make(chan error, 1)
	go func() {
		sweepErr <- sw.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumerErr:
		return err
	case err := <-httpErr:
		return err
	case err := <-sweepErr:
		return err
	}
}
