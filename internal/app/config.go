package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mubai-gl/monoshop/internal/messaging/kafka"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// DefaultConfig возвращает базовую конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		KafkaTopic:          kafka.TopicOrderEvents,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    100 * time.Millisecond,
	}
}

// ReadConfig собирает конфигурацию из переменных окружения поверх значений
// по умолчанию.
func ReadConfig() Config {
	cfg := DefaultConfig()

	readEnvString("MONOSHOP_HTTP_ADDR", &cfg.HTTPAddr)
	readEnvString("MONOSHOP_GRPC_ADDR", &cfg.GRPCAddr)
	readEnvString("MONOSHOP_METRICS_ADDR", &cfg.MetricsAddr)

	if v := envValue("MONOSHOP_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	readEnvString("MONOSHOP_POSTGRES_DSN", &cfg.PostgresDSN)
	readEnvBool("MONOSHOP_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	readEnvString("MONOSHOP_KAFKA_BROKERS", &cfg.KafkaBrokers)
	readEnvString("MONOSHOP_KAFKA_TOPIC", &cfg.KafkaTopic)

	readEnvDuration("MONOSHOP_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	readEnvInt("MONOSHOP_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	readEnvInt("MONOSHOP_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	readEnvDuration("MONOSHOP_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	return cfg
}

func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func readEnvString(name string, target *string) {
	if v := envValue(name); v != "" {
		*target = v
	}
}

func readEnvBool(name string, target *bool) {
	if v := envValue(name); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func readEnvInt(name string, target *int) {
	if v := envValue(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*target = parsed
		}
	}
}

func readEnvDuration(name string, target *time.Duration) {
	if v := envValue(name); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			*target = parsed
		}
	}
}
