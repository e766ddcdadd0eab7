package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-alert/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-alert/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert/internal/adapter/localmap"
	"github.com/couchcryptid/quake-alert/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-alert/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-alert/internal/adapter/telegram"
	"github.com/couchcryptid/quake-alert/internal/adapter/usgs"
	"github.com/couchcryptid/quake-alert/internal/config"
	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/monitor"
	"github.com/couchcryptid/quake-alert/internal/notifier"
	"github.com/couchcryptid/quake-alert/internal/observability"
	"github.com/couchcryptid/quake-alert/internal/store"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventLog, err := openLog(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open notified-event store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	notified, err := store.Open(ctx, eventLog)
	if err != nil {
		logger.Error("failed to load notified events", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	logger.Info("notified-event store loaded", "backend", cfg.StoreBackend, "events", notified.Len())

	tg := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramTimeout, logger)
	chatID, err := resolveChatID(ctx, cfg, tg, logger)
	if err != nil {
		logger.Error("failed to resolve telegram chat", "error", err)
		os.Exit(1)
	}
	tg.SetChatID(chatID)

	feed := usgs.NewClient(cfg.FeedBaseURL, cfg.Timezone, cfg.FeedTimeout, metrics, logger)
	n := notifier.New(cfg.Reference(), buildRenderer(cfg, metrics, logger), tg, feed, cfg.MapImageDir, metrics, logger)

	mon := monitor.New(monitor.Config{
		Reference:    cfg.Reference(),
		MinMagnitude: cfg.FeedMinMagnitude,
		BatchLimit:   cfg.FeedBatchLimit,
		OrderBy:      cfg.FeedOrder,
		PollInterval: cfg.PollInterval,
		MaxBackoff:   cfg.FeedMaxBackoff,
	}, feed, n, notified, clockwork.NewRealClock(), logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, mon, mon, nil, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start monitor loop.
	monErr := make(chan error, 1)
	go func() {
		monErr <- mon.Run(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		<-monErr
	case err := <-monErr:
		if err != nil {
			logger.Error("monitor error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := notified.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		cancel()
		stop()
		os.Exit(exitCode)
	}
}

func openLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Log, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath, logger)
	case config.StoreKafka:
		l := kafkaadapter.NewLog(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err := l.EnsureTopic(ctx); err != nil {
			_ = l.Close()
			return nil, err
		}
		return l, nil
	default:
		return store.NewFileLog(cfg.LastEventFile), nil
	}
}

// buildRenderer chains Mapbox (when enabled) over the offline renderer and
// caches the result per event.
func buildRenderer(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.MapRenderer {
	var r domain.MapRenderer = localmap.NewRenderer()
	if cfg.MapboxEnabled {
		static := mapbox.NewStaticRenderer(cfg.MapboxToken, cfg.MapboxStyle, cfg.MapboxTimeout, logger)
		r = mapbox.NewFallbackRenderer(static, r, logger)
		logger.Info("mapbox static maps enabled", "style", cfg.MapboxStyle, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox static maps disabled, using offline renderer")
	}
	return mapbox.NewCachedRenderer(r, cfg.MapCacheSize, metrics)
}

// resolveChatID prefers TELEGRAM_CHAT_ID, then the cached id, then asks the
// Bot API for the most recent chat and caches it.
func resolveChatID(ctx context.Context, cfg *config.Config, tg *telegram.Client, logger *slog.Logger) (int64, error) {
	if cfg.TelegramChatID != 0 {
		return cfg.TelegramChatID, nil
	}

	cache := store.NewRecipientCache(cfg.ChatIDFile)
	id, ok, err := cache.Load()
	if err != nil {
		logger.Warn("chat id cache unreadable, rediscovering", "path", cfg.ChatIDFile, "error", err)
	}
	if ok {
		return id, nil
	}

	id, err = tg.DiscoverChatID(ctx)
	if err != nil {
		return 0, err
	}
	if err := cache.Save(id); err != nil {
		logger.Warn("failed to cache chat id", "path", cfg.ChatIDFile, "error", err)
	}
	return id, nil
}
