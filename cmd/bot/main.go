// cmd/bot/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"fitness-bot/config"
	"fitness-bot/internal/bot"
	"fitness-bot/internal/cache"
	"fitness-bot/internal/coach"
	"fitness-bot/internal/db"
	"fitness-bot/internal/gpt"
	"fitness-bot/internal/prompt"
	"fitness-bot/internal/server"
	"fitness-bot/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	l := logger.FromMode(cfg.Log.Mode)
	defer l.Sync()
	l.Info("Starting Fitness Coach Bot...")

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		l.Fatal("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection with retry
	store, err := db.OpenWithRetry(ctx, cfg.DB, l, 5)
	if err != nil {
		l.Fatal("Failed to connect to database", "error", err)
	}
	defer store.Close()

	dedup, err := cache.New(ctx, cfg.Redis.URL, cfg.Redis.DedupTTL)
	if err != nil {
		l.Fatal("Failed to connect to redis", "error", err)
	}

	gptClient := gpt.NewClient(cfg.GPT, nil, l)
	svc := coach.NewService(store, prompt.NewAssembler(cfg.Bot), gptClient, l)

	telegramBot, err := bot.NewTelegramBot(cfg, svc, dedup, l)
	if err != nil {
		l.Fatal("Failed to create Telegram bot", "error", err)
	}

	httpServer := server.NewServer(cfg.Server.Port, store, l)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telegramBot.Start(gctx, cfg.Telegram.PollTimeout)
	})
	g.Go(func() error {
		return httpServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down bot...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop HTTP server first
		if err := httpServer.Stop(shutdownCtx); err != nil {
			l.Error("Error during HTTP server shutdown", "error", err)
		}
		// Then let in-flight chat work finish
		if err := telegramBot.Stop(shutdownCtx); err != nil {
			l.Error("Error during bot shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("Bot stopped with error", "error", err)
		return
	}
	l.Info("Bot stopped successfully")
}
