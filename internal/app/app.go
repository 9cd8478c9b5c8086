package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/mubai-gl/monoshop/internal/domain"
	healthcheck "github.com/mubai-gl/monoshop/internal/health"
	"github.com/mubai-gl/monoshop/internal/idgen"
	"github.com/mubai-gl/monoshop/internal/messaging/kafka"
	"github.com/mubai-gl/monoshop/internal/metrics"
	"github.com/mubai-gl/monoshop/internal/service/httpapi"
	"github.com/mubai-gl/monoshop/internal/service/inventory"
	"github.com/mubai-gl/monoshop/internal/service/order"
	"github.com/mubai-gl/monoshop/internal/service/outbox"
	"github.com/mubai-gl/monoshop/internal/service/payment"
	"github.com/mubai-gl/monoshop/internal/version"
)

// Run собирает все зависимости и держит серверы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("не удалось закрыть хранилище")
			}
		}
	}()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	orderMetrics := metrics.NewOrderMetrics()
	clock := domain.SystemClock()

	ledger := inventory.NewLedger(deps.stock, clock,
		inventory.WithLogger(log.WithField("component", "inventory")),
	)
	processor := payment.NewProcessor(deps.payments, deps.orders, ledger, clock,
		payment.WithLogger(log.WithField("component", "payment")),
	)

	orderOptions := []order.Option{
		order.WithLogger(log.WithField("component", "order")),
		order.WithOutbox(deps.outboxRepo),
		order.WithTimeline(deps.timelineRepo),
		order.WithMetrics(orderMetrics),
	}
	if kafkaProducer != nil {
		orderOptions = append(orderOptions, order.WithKafkaProducer(kafkaProducer))
	}
	orderService := order.NewService(
		deps.orders, deps.products, ledger, processor,
		idgen.NewUUIDv7(), clock, orderOptions...,
	)

	// Outbox worker публикует накопленные события в Kafka. Без брокера
	// записи остаются pending, сервис работает дальше.
	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps.outboxRepo, kafkaProducer, logger)

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	apiSrv := startAPIServer(ctx, cfg.HTTPAddr, logger, orderService)

	grpcServer, healthServer := buildGRPCServer(logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownOutboxWorker(outboxCancel, outboxDone, logger)
		closeKafkaProducer(kafkaProducer, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownOutboxWorker(outboxCancel, outboxDone, logger)
		closeKafkaProducer(kafkaProducer, logger)
		return ctx.Err()

	case err := <-errCh:
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownOutboxWorker(outboxCancel, outboxDone, logger)
		closeKafkaProducer(kafkaProducer, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// buildGRPCServer поднимает gRPC с health, reflection и метриками запросов.
func buildGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	// Reflection для grpcurl и нагрузочных инструментов.
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

// startOutboxWorker запускает фоновую публикацию outbox-записей.
// Возвращает cancel-функцию и канал завершения, оба nil без Kafka.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	producer *kafka.Producer,
	logger *log.Entry,
) (context.CancelFunc, chan struct{}) {
	if producer == nil {
		return nil, nil
	}

	worker := outbox.NewWorker(
		repo,
		kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	logger.WithField("topic", cfg.KafkaTopic).Info("outbox worker запущен")
	return cancel, done
}

// shutdownOutboxWorker останавливает worker и дожидается завершения.
func shutdownOutboxWorker(cancel context.CancelFunc, done chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("outbox worker не остановился за отведённое время")
	}
}

// startAPIServer запускает HTTP/JSON API заказов.
func startAPIServer(ctx context.Context, addr string, logger *log.Entry, orders *order.Service) *http.Server {
	mux := http.NewServeMux()
	httpapi.NewHandler(orders, log.WithField("component", "http-api")).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("HTTP API слушает %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("api server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
