package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tracking_written_topic_name: "tracking.written"
redis:
  host: "localhost"
  port: 6379
invoicing:
  http_addr: ":8080"
  worker_http_addr: ":8082"
  kafka_consumer_group: "invoice-worker"
  invoice_cache_ttl_seconds: 600
  write_rate_limit_per_minute: 120
  sweep_interval_seconds: 60
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "tracking.written", cfg.Kafka.TrackingWrittenTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Invoicing.HTTPAddr)
	require.Equal(t, "invoice-worker", cfg.Invoicing.KafkaConsumerGroup)
	require.Equal(t, 60, cfg.Invoicing.SweepIntervalSeconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
