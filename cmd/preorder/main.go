// Package main запускает HTTP-сервер сервиса предзаказов кампуса.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/campus-preorder/internal/config"
	"github.com/mmeshcher/campus-preorder/internal/draftstore"
	"github.com/mmeshcher/campus-preorder/internal/handler"
	"github.com/mmeshcher/campus-preorder/internal/middleware"
	"github.com/mmeshcher/campus-preorder/internal/notify"
	"github.com/mmeshcher/campus-preorder/internal/payment"
	"github.com/mmeshcher/campus-preorder/internal/repository"
	"github.com/mmeshcher/campus-preorder/internal/service"
)

const notifyQueueSize = 256

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := newRepository(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	drafts, closeDrafts, err := newDraftStore(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("draft store initialization error", "error", err.Error())
	}
	defer closeDrafts()

	sink, closeSink, err := newSink(cfg, logger)
	if err != nil {
		sugar.Fatalw("notification broker initialization error", "error", err.Error())
	}
	defer closeSink()
	dispatcher := notify.NewDispatcher(sink, logger, notifyQueueSize)

	if cfg.PaymentAPIURL == "" {
		sugar.Warn("payment processor URL is not set, drafts will fail to create intents")
	}
	gate := payment.NewGate(cfg.PaymentAPIURL, cfg.PaymentKeyID, cfg.PaymentKeySecret)

	svc := service.NewService(repo, gate, drafts, dispatcher, logger,
		service.WithServiceCharge(cfg.ServiceChargePercent),
		service.WithCurrency(cfg.Currency),
		service.WithDraftTTL(cfg.DraftTTL),
	)
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("auth secret is not set, session cookies will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Доставка уведомлений ресторанам
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting preorder server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

type seededRepository interface {
	service.Repository
	LoadSeed(ctx context.Context, r io.Reader) error
}

// newRepository выбирает PostgreSQL при заданном DSN, иначе хранилище в памяти.
// Начальный каталог из SEED_FILE загружается в любое из них.
func newRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	var repo seededRepository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		repo = pg
	} else {
		logger.Warn("database URI is not set, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	if cfg.SeedFile == "" {
		return repo, nil
	}

	f, err := os.Open(cfg.SeedFile)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	if err := repo.LoadSeed(ctx, f); err != nil {
		repo.Close()
		return nil, fmt.Errorf("load seed file: %w", err)
	}
	logger.Info("catalog seeded", zap.String("file", cfg.SeedFile))
	return repo, nil
}

func newDraftStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (draftstore.Store, func(), error) {
	if cfg.RedisAddress == "" {
		logger.Warn("redis address is not set, drafts are kept in memory")
		return draftstore.NewMemoryStore(), func() {}, nil
	}

	client, err := draftstore.NewRedisClient(ctx, cfg.RedisAddress)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	return draftstore.NewRedisStore(client), closeFn, nil
}

func newSink(cfg *config.Config, logger *zap.Logger) (notify.Sink, func(), error) {
	if cfg.AMQPURI == "" {
		return notify.NewLogSink(logger), func() {}, nil
	}

	sink, err := notify.NewRabbitSink(cfg.AMQPURI)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := sink.Close(); err != nil {
			logger.Warn("rabbitmq close failed", zap.Error(err))
		}
	}
	return sink, closeFn, nil
}
