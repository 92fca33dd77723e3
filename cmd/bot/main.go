package main

import (
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/alias"
	"github.com/davnik/sysslan/internal/bot"
	"github.com/davnik/sysslan/internal/classifier"
	"github.com/davnik/sysslan/internal/engine"
	"github.com/davnik/sysslan/internal/learning"
	"github.com/davnik/sysslan/internal/localtime"
	"github.com/davnik/sysslan/internal/metrics"
	"github.com/davnik/sysslan/internal/storage"
	"github.com/davnik/sysslan/pkg/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	zone, err := localtime.NewZone(cfg.Policy.TimeZone, cfg.Policy.QuietStartHour, cfg.Policy.QuietEndHour)
	if err != nil {
		logger.Fatal("Failed to load time zone", zap.Error(err))
	}

	clock := localtime.SystemClock{}

	resolver := alias.NewResolver(store, clock, cfg.Learning.AliasCacheTTL, logger)

	gateway := classifier.NewGateway(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	trackers := learning.NewTrackers(store, zone, cfg.Learning.Alpha, logger)

	fast := engine.NewFastDetector(store, cfg.Policy.FastSampleSize, cfg.Policy.FastWindow, cfg.Policy.FastThreshold)

	policy := engine.NewPolicy(store, fast, zone, engine.PolicyConfig{
		DailyCap:         cfg.Policy.DailyCap,
		Cooldown:         cfg.Policy.Cooldown,
		HighThreshold:    cfg.Policy.HighThreshold,
		ClarifyThreshold: cfg.Policy.ClarifyThreshold,
	})

	feedback := engine.NewFeedbackHandler(resolver, gateway, cfg.Policy.CorrectionThreshold, logger)

	b, err := bot.New(cfg.Telegram.Token, store, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	eng := engine.New(store, resolver, gateway, trackers, policy, feedback, b, clock, logger)
	b.SetEngine(eng)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
