package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tradecore/config"
	"tradecore/domain/book"
	"tradecore/domain/impact"
	"tradecore/domain/lifecycle"
	"tradecore/domain/strategy"
	"tradecore/infra/logging"
	"tradecore/infra/outbox"
	"tradecore/infra/sequence"
	"tradecore/jobs/feed"
	"tradecore/jobs/publisher"
	"tradecore/service"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// ---------------- Persistence collaborator ----------------

	box, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		logger.Fatal("outbox init failed", zap.Error(err))
	}
	defer box.Close()

	// ---------------- Core ----------------

	engine := impact.NewEngine(impact.Config{
		LambdaWindow:       cfg.LambdaWindow,
		LambdaMinSamples:   cfg.LambdaMinSamples,
		LambdaCacheTTL:     cfg.LambdaCacheTTL,
		ExecutionRetention: cfg.ExecutionRetention,
		RecalibrateEvery:   cfg.RecalibrateEvery,
		RetrainMinRecords:  cfg.RetrainMinRecords,
		DefaultHorizon:     cfg.DefaultHorizon,
		RiskAversion:       cfg.RiskAversion,
		PermanentRatio:     cfg.PermanentRatio,
		EnsembleWeights:    cfg.EnsembleWeights,
		AggressiveFactor:   cfg.AggressiveFactor,
		SpreadClampFactor:  cfg.SpreadClampFactor,
	}, logger)

	mgr := lifecycle.NewManager(lifecycle.Config{
		MaxOrderNotional: cfg.MaxOrderNotional,
		DayOrderTimeout:  cfg.DayOrderTimeout,
		NotifyRingSize:   cfg.NotifyRingSize,
		UrgencyThreshold: cfg.UrgencyThreshold,
	}, sequence.New(0), lifecycle.NewFakeVenue(), box, engine, logger)

	svc := service.New(service.Config{
		UrgencyThreshold: cfg.UrgencyThreshold,
		BookConfig: book.Config{
			MinPrice:    cfg.MinPriceTicks,
			MaxPrice:    cfg.MaxPriceTicks,
			DepthLevels: cfg.DepthLevels,
		},
	}, mgr, engine, []strategy.Strategy{strategy.NewMomentum(1, 100)}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---------------- Background jobs ----------------

	go mgr.Run(ctx, cfg.ExpirySweepEvery)

	pub, err := publisher.New(box, cfg.KafkaBrokers, cfg.ExecTopic, 250*time.Millisecond, logger)
	if err != nil {
		logger.Warn("kafka unavailable, running without publisher", zap.Error(err))
	} else {
		defer pub.Close()
		go pub.Run(ctx)
	}

	consumer := feed.NewConsumer(cfg.KafkaBrokers, cfg.FeedTopic, "tradecore", svc.OnMarketUpdate, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Warn("feed consumer stopped", zap.Error(err))
		}
	}()

	logger.Info("trading core running",
		zap.String("outbox", cfg.OutboxDir),
		zap.Strings("brokers", cfg.KafkaBrokers))

	svc.Run(ctx)
}
