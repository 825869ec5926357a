package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Loong0404/invoiceflow/config"
	"github.com/Loong0404/invoiceflow/internal/api/invoicingapi"
	"github.com/Loong0404/invoiceflow/internal/broker/kafka"
	"github.com/Loong0404/invoiceflow/internal/cache/rediscache"
	"github.com/Loong0404/invoiceflow/internal/services/invoices"
	"github.com/Loong0404/invoiceflow/internal/services/trackings"
	"github.com/Loong0404/invoiceflow/internal/storage/pginvoicing"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Invoicing.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.TrackingWrittenTopicName
	if topic == "" {
		topic = "tracking.written"
	}
	cacheTTL := time.Duration(cfg.Invoicing.InvoiceCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	writeLimit := int64(cfg.Invoicing.WriteRateLimitPerMinute)
	if writeLimit <= 0 {
		writeLimit = 120
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pginvoicing.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	trackSvc := trackings.New(st, producer, topic)
	invSvc := invoices.New(st, rc, cacheTTL)
	api := invoicingapi.New(trackSvc, invSvc, rl, writeLimit)

	swaggerPath := os.Getenv("swaggerPath")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runInvoiceAPI(ctx, invoiceAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: swaggerPath,
	}, api); err != nil && err != context.Canceled && err != http.ErrServerClosed {
		panic(err)
	}
}
