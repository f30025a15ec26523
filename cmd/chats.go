package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/transport"
)

func chatsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage tracked chats",
	}
	cmd.PersistentFlags().StringVar(&owner, "owner", "", "owner scope (default: global)")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <chat-id|@handle>",
		Short: "Track a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, cfg *config.Config, stores store.Stores) error {
				chatID, err := resolveChatRef(ctx, cfg, args[0])
				if err != nil {
					return err
				}
				exists, err := stores.Subscriptions.SubscriptionExists(ctx, owner, chatID)
				if err != nil {
					return err
				}
				if exists {
					fmt.Printf("chat %d is already tracked\n", chatID)
					return nil
				}
				if err := stores.Subscriptions.AddSubscription(ctx, owner, chatID); err != nil {
					return err
				}
				fmt.Printf("tracking chat %d\n", chatID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <chat-id|@handle>",
		Short: "Stop tracking a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, cfg *config.Config, stores store.Stores) error {
				chatID, err := resolveChatRef(ctx, cfg, args[0])
				if err != nil {
					return err
				}
				if err := stores.Subscriptions.RemoveSubscription(ctx, owner, chatID); err != nil {
					return err
				}
				fmt.Printf("stopped tracking chat %d\n", chatID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, cfg *config.Config, stores store.Stores) error {
				subs, err := stores.Subscriptions.ListSubscriptions(ctx, owner)
				if err != nil {
					return err
				}
				if len(subs) == 0 {
					fmt.Println("no tracked chats")
					return nil
				}
				for _, sub := range subs {
					scope := sub.OwnerID
					if scope == store.GlobalOwner {
						scope = "global"
					}
					fmt.Printf("%d\towner=%s\tsince=%s\n", sub.ChatID, scope, sub.CreatedAt.Format("2006-01-02"))
				}
				return nil
			})
		},
	})

	return cmd
}

// withStores loads the config, opens the storage backend and runs fn.
func withStores(ctx context.Context, fn func(context.Context, *config.Config, store.Stores) error) error {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStores()
	return fn(ctx, cfg, stores)
}

// resolveChatRef turns a numeric id or @handle into a canonical chat
// id. Handles need an authenticated session; bare ids do not.
func resolveChatRef(ctx context.Context, cfg *config.Config, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		// The sign tells the kind: positive ids are direct chats and
		// must keep their positive form, otherwise a subscription would
		// never match the id live events normalize to. Negative ids are
		// groups/channels, raw or already prefixed.
		kind := store.ChatDirect
		if id < 0 {
			kind = store.ChatChannel
		}
		return store.NormalizeChatID(id, kind), nil
	}
	if !strings.HasPrefix(ref, "@") {
		return 0, fmt.Errorf("chat reference %q is neither an id nor an @handle", ref)
	}

	sess := session.NewManager(transport.NewTelegramClient(cfg.Telegram, nil))
	if err := sess.Connect(ctx); err != nil {
		return 0, fmt.Errorf("resolving %q needs a session: %w", ref, err)
	}
	defer sess.Disconnect(context.Background())

	var entity *transport.Entity
	err := sess.Do(ctx, func(c transport.Client) error {
		e, rerr := c.ResolveEntity(ctx, ref)
		if rerr != nil {
			return rerr
		}
		entity = e
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return store.NormalizeChatID(entity.ID, entity.Kind), nil
}
