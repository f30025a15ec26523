package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/forward"
	"github.com/propsift/propsift/internal/ingest"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/store/pg"
	"github.com/propsift/propsift/internal/store/sqlite"
	"github.com/propsift/propsift/internal/transport"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the chat monitor (also the default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runMonitor()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// openStores opens the configured storage backend: sqlite in standalone
// mode, postgres when PROPSIFT_POSTGRES_DSN is set.
func openStores(ctx context.Context, cfg *config.Config) (store.Stores, func() error, error) {
	if cfg.IsManagedMode() {
		db, err := pg.OpenDB(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return store.Stores{}, nil, err
		}
		slog.Info("storage backend ready", "mode", "managed")
		return pg.New(db).Stores(), db.Close, nil
	}
	st, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		return store.Stores{}, nil, err
	}
	slog.Info("storage backend ready", "mode", "standalone", "path", cfg.Database.SQLitePath)
	return st.Stores(), st.Close, nil
}

func runMonitor() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	sess := session.NewManager(transport.NewTelegramClient(cfg.Telegram, nil))
	if err := sess.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrAuthRequired) {
			slog.Error("no valid credential; set PROPSIFT_TELEGRAM_TOKEN or run `propsift login`")
		} else {
			slog.Error("failed to connect", "error", err)
		}
		os.Exit(1)
	}
	defer sess.Disconnect(context.Background())

	if cfg.Session.SendTestMessage {
		if err := sess.SendTestMessage(ctx); err != nil {
			slog.Warn("test message failed", "error", err)
		}
	}

	engine := keyword.NewEngine(stores.Keywords, cfg.Keywords.CacheTTLDuration(), cfg.Keywords.RequiredCategories)
	sink := forward.NewWebhookSink(cfg.Webhook.URL, time.Duration(cfg.Webhook.TimeoutSec)*time.Second)
	if sink != nil {
		slog.Info("webhook sink enabled")
	}
	fwd := forward.New(sess, stores.Messages, engine, cfg.Relay, sink)
	ing := ingest.New(bus.New(), sess, stores, engine, fwd, cfg.Session.MaxReconnectAttempts)
	bf := ingest.NewBackfiller(sess, ing, stores, cfg.Backfill.PageSize, cfg.Backfill.RatePerSec, cfg.Session.MaxReconnectAttempts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ing.Run(gctx) })
	g.Go(func() error { return bf.RunScheduled(gctx, cfg.Backfill.Schedule) })
	g.Go(func() error {
		return healthLoop(gctx, sess, cfg.Session.HealthCheckIntervalDuration(), cfg.Session.MaxReconnectAttempts)
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(next *config.Config) {
			engine.Reconfigure(next.Keywords.CacheTTLDuration(), next.Keywords.RequiredCategories)
			fwd.Reconfigure(next.Relay)
			slog.Info("configuration reloaded")
		})
		if err != nil && gctx.Err() == nil {
			// Hot reload is best-effort; a missing watch never takes
			// the monitor down.
			slog.Warn("config watch unavailable", "error", err)
			<-gctx.Done()
		}
		return gctx.Err()
	})

	slog.Info("propsift monitor running", "relay_enabled", cfg.Relay.Enabled, "backfill_schedule", cfg.Backfill.Schedule)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// healthLoop verifies the session periodically and recovers it after
// transient failures. Gives up only when reconnection is exhausted or
// reauthorization is required.
func healthLoop(ctx context.Context, sess *session.Manager, interval time.Duration, maxAttempts int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if sess.HealthCheck(ctx) {
				continue
			}
			if !sess.Reconnect(ctx, maxAttempts) {
				return ingest.ErrSessionLost
			}
		}
	}
}
