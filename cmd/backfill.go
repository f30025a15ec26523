package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/forward"
	"github.com/propsift/propsift/internal/ingest"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/transport"
)

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Sweep the history of every tracked chat once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, cfg *config.Config, stores store.Stores) error {
				sess := session.NewManager(transport.NewTelegramClient(cfg.Telegram, nil))
				if err := sess.Connect(ctx); err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				defer sess.Disconnect(context.Background())

				engine := keyword.NewEngine(stores.Keywords, cfg.Keywords.CacheTTLDuration(), cfg.Keywords.RequiredCategories)
				sink := forward.NewWebhookSink(cfg.Webhook.URL, time.Duration(cfg.Webhook.TimeoutSec)*time.Second)
				fwd := forward.New(sess, stores.Messages, engine, cfg.Relay, sink)
				ing := ingest.New(bus.New(), sess, stores, engine, fwd, cfg.Session.MaxReconnectAttempts)
				bf := ingest.NewBackfiller(sess, ing, stores, cfg.Backfill.PageSize, cfg.Backfill.RatePerSec, cfg.Session.MaxReconnectAttempts)

				return bf.SweepAll(ctx)
			})
		},
	}
}
