package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/config"
	"github.com/skookum/geocascade/internal/storage"
)

var (
	configPath string
	dbPath     string

	cfg    *config.Config
	store  *storage.Store
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "geocascade",
	Short: "Multi-scale anomaly discovery cascade for satellite imagery",
	Long: `geocascade runs a three-tier analysis cascade over satellite imagery:
a 50km regional sweep, 10km zone refinement of promising hotspots, and
2km site confirmation, followed by spatial fusion, pattern leverage,
and compliance validation of the resulting discoveries.

Runs checkpoint after every stage and resume from persisted artifacts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if os.Getenv("GEOCASCADE_DEBUG") != "" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		// Environment overrides sit between the config file and
		// explicit flags.
		flags := cmd.Root().PersistentFlags()
		if !flags.Changed("config") {
			if p := os.Getenv("GEOCASCADE_CONFIG"); p != "" {
				configPath = p
			}
		}
		if dbPath == "" {
			dbPath = os.Getenv("GEOCASCADE_DB_PATH")
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}

		store, err = storage.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening run database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "geocascade.yaml", "path to the run configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override the run database path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(regionsCmd)
}
