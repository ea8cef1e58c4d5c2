package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papernav/internal/channel"
	"papernav/internal/metrics"
	"papernav/internal/session"
	"papernav/internal/transcript"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func telegramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot (and the metrics endpoint, if enabled)",
		Long:  "Each Telegram chat gets its own session: send a PDF, then ask questions about it. Press Ctrl+C to stop.",
		RunE:  runTelegram,
	}
}

func runTelegram(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tgCfg := cfg.Channels.Telegram
	if tgCfg.Token == "" {
		return fmt.Errorf("channels.telegram.token is not set (run 'papernav config set channels.telegram.token <token>' or 'papernav wizard')")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openTranscript(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	backend := newBackend(cfg)
	if err := backend.Healthy(ctx); err != nil {
		logger.Warn("backend not reachable at startup", zap.String("url", backend.BaseURL()), zap.Error(err))
	} else {
		logger.Info("backend healthy", zap.String("url", backend.BaseURL()))
	}

	var onSession func(*session.Session)
	if store != nil {
		rec := transcript.NewRecorder(store, "telegram", logger)
		onSession = rec.Attach
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:        tgCfg.Token,
		AllowFrom:    tgCfg.AllowFrom,
		MaxFileBytes: int64(tgCfg.MaxFileMB) << 20,
		Service:      backend,
		OnSession:    onSession,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return tg.Start(gctx)
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Endpoint))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("telegram gateway started. Press Ctrl+C to stop.")
	err = g.Wait()
	_ = tg.Stop()
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
