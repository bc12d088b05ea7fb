package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"fablink/internal/audit"
	"fablink/internal/cache"
	"fablink/internal/config"
	"fablink/internal/db"
	"fablink/internal/deliverycode"
	"fablink/internal/kafka"
	"fablink/internal/mail"
	"fablink/internal/middleware"
	"fablink/internal/notify"
	taskprocessor "fablink/internal/processor"
	"fablink/internal/repository"
	"fablink/internal/server"
	"fablink/internal/service"
	"fablink/internal/shipping"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.LoadConfig()

	database, err := db.NewDB(cfg.DSN, cfg.MigrationsDir)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer func() { _ = database.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderRepo := repository.NewOrderRepository(database)
	userRepo := repository.NewUserRepository(database)
	paymentRepo := repository.NewPaymentRepository(database)
	reviewRepo := repository.NewReviewRepository(database)
	productRepo := repository.NewProductRepository(database)
	taskRepo := repository.NewPostgresTaskRepository(database)

	auditPool := audit.NewWorkerPool(
		audit.PoolConfig{BatchSize: 16, Timeout: 2 * time.Second, ChannelSize: 256},
		logger,
		audit.NewDBProcessor(database),
		&audit.StdoutProcessor{Filter: cfg.FilterWord, Logger: logger},
	)
	auditPool.Start(ctx, 2)
	defer auditPool.Shutdown(cancel)

	producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("kafka producer init failed", zap.Error(err))
	}
	defer func() { _ = producer.Close() }()

	processor := taskprocessor.NewTaskProcessor(taskRepo, producer, cfg.KafkaTopic, time.Second, 50, logger)
	go processor.Start(ctx)

	sender := mail.NewSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	go func() {
		consumerCfg := sarama.NewConfig()
		consumerCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
		if err := kafka.StartSaramaConsumer(ctx, consumerCfg, cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaTopic}, sender, logger); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	worklist := cache.NewPendingPayoutsCache(paymentRepo)
	if err := worklist.Refresh(ctx); err != nil {
		logger.Warn("initial worklist load failed", zap.Error(err))
	}
	go worklist.StartAutoRefresh(ctx, 30*time.Second)

	notifier := notify.NewNotifier(taskRepo, userRepo, logger, cfg.AdminEmail)

	orderSvc := service.NewOrderService(
		orderRepo,
		shipping.NewService(),
		deliverycode.NewGenerator(),
		notifier,
		auditPool,
		worklist,
		logger,
	)
	paymentSvc := service.NewPaymentService(paymentRepo, notifier, worklist, logger)
	reviewSvc := service.NewReviewService(reviewRepo, userRepo, worklist, logger)
	makerSvc := service.NewMakerService(userRepo, productRepo)

	identity := middleware.NewIdentityResolver(userRepo, cfg.AdminIDs, logger)
	srv := server.NewServer(orderSvc, paymentSvc, reviewSvc, makerSvc, identity, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	cancel()
}
