package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/transport"
)

// promptAuthenticator answers the transport credential challenge with
// an interactive form.
type promptAuthenticator struct{}

func (promptAuthenticator) Token(_ context.Context) (string, error) {
	var token string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Telegram bot token").
			Description("From @BotFather; stored in .env.local, never in config.json.").
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token must not be empty")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate against Telegram and store the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			// Force the interactive challenge even when the env var is
			// already set, so login can replace a revoked credential.
			tgCfg := cfg.Telegram
			tgCfg.Token = ""

			auth := promptAuthenticator{}
			token, err := auth.Token(ctx)
			if err != nil {
				return err
			}
			tgCfg.Token = token

			sess := session.NewManager(transport.NewTelegramClient(tgCfg, auth))
			if err := sess.Connect(ctx); err != nil {
				return fmt.Errorf("credential rejected: %w", err)
			}
			defer sess.Disconnect(context.Background())

			if err := writeEnvLocal(cfgPath, token); err != nil {
				return err
			}

			envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
			slog.Info("login successful", "credential_file", envPath)
			fmt.Println()
			fmt.Println("Credential saved. Load it before starting the monitor:")
			fmt.Println()
			fmt.Printf("  source %s && propsift\n", envPath)
			fmt.Println()
			return nil
		},
	}
}

// writeEnvLocal stores the secret next to the config file, owner-only.
func writeEnvLocal(cfgPath, token string) error {
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	content := fmt.Sprintf("export PROPSIFT_TELEGRAM_TOKEN=%q\n", token)
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	return nil
}
