// Команда order-service запускает HTTP, gRPC и metrics серверы магазина
// вместе с outbox-воркером. Вся конфигурация берётся из окружения.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/app"
)

// setupLogger настраивает формат и уровень логирования.
// Уровень переопределяется через MONOSHOP_LOG_LEVEL (debug, info, warn, error).
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level := log.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("MONOSHOP_LOG_LEVEL")); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			log.WithField("value", raw).Warn("неизвестный уровень логирования, остаёмся на info")
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

func main() {
	setupLogger()
	cfg := app.ReadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем сервис заказов")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис заказов остановлен")
}
