package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/config"
	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/ingest"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Track municipal bid opportunities",
	Long:  "Collects open solicitations from municipal procurement portals, reconciles them into one record per opportunity and reports run health.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// openStore opens the configured store; migrations are applied on open.
func openStore(ctx context.Context) (db.Store, error) {
	return db.Open(ctx, cfg.Store)
}

func newRunner(st db.Store) (*ingest.Runner, error) {
	return ingest.Setup(st, cfg.Ingest.SourcesFile, ingest.FetchConfig{
		TimeoutSeconds: cfg.Fetch.TimeoutSecs,
		MaxRetries:     cfg.Fetch.MaxRetries,
		DelayMillis:    cfg.Fetch.DelayMillis,
		UserAgent:      cfg.Fetch.UserAgent,
	}, ingest.WithHistoryRetention(cfg.Ingest.HistoryRetention))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
