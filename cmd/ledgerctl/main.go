// Command ledgerctl inspects and repairs credit balances from the shell. It
// reads the same environment as the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/push"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/spf13/cobra"
)

// env holds the services the commands share, built once in PersistentPreRunE.
type env struct {
	ledger *services.Ledger
	policy *services.PolicyService
}

var app env

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Credit ledger maintenance",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries command output
		logging.Setup(os.Stderr, slog.LevelWarn)
		cfg := config.Load()
		if err := database.Connect(cfg); err != nil {
			return err
		}
		var channel push.Channel = push.LogChannel{}
		if cfg.PushEndpoint != "" {
			channel = push.NewHTTPGateway(cfg.PushEndpoint, cfg.PushAPIKey, cfg.PushTimeout)
		}
		settings := services.NewSettingsService(database.DB)
		notifier := services.NewNotificationService(database.DB, channel, cfg.Location())
		app = env{
			ledger: services.NewLedger(database.DB, notifier, settings),
			policy: services.NewPolicyService(settings),
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd, balanceCmd, adjustCmd, policyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
