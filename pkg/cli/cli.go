// Package cli wires the repairstore commands.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/repairhq/repairstore/pkg/client"
	"github.com/repairhq/repairstore/pkg/config"
	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/functions"
	"github.com/repairhq/repairstore/pkg/store/postgres"
)

var (
	configPath string
	verbose    bool
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "repairstore",
		Short:         "Data layer tooling for the repair shop",
		Long:          "repairstore serves the neon-side entity functions and drives the migration from the hosted platform to the relational backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the serverless-function server backed by PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Neon.DatabaseURL == "" {
				return &entity.ConfigurationError{Reason: "serve requires neon.database_url"}
			}
			log := newLogger()

			backend, err := postgres.New(cfg.Neon.DatabaseURL)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			if err := backend.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}

			srv := functions.NewServer(backend, log)
			return srv.Run(ctx, fmt.Sprintf(":%d", cfg.ServerPort))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var (
		entityName string
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy entity data from the legacy backend into the new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger()

			c, err := client.FromConfig(cfg, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if entityName != "" {
				t := entity.Type(entityName)
				if !t.Valid() {
					return fmt.Errorf("unknown entity type %q", entityName)
				}
				report, err := c.MigrateEntity(ctx, t, batchSize)
				if err != nil {
					return err
				}
				printReport(cmd, report.EntityType, report.Migrated, report.Skipped, report.Failed)
				return nil
			}

			reports, err := c.MigrateAll(ctx, batchSize)
			for _, report := range reports {
				printReport(cmd, report.EntityType, report.Migrated, report.Skipped, report.Failed)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&entityName, "entity", "e", "", "migrate a single entity type (default: all)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 100, "records per batch")
	return cmd
}

func printReport(cmd *cobra.Command, t entity.Type, migrated, skipped, failed int) {
	cmd.Printf("%-16s migrated=%d skipped=%d failed=%d\n", t, migrated, skipped, failed)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compare record counts between the two backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger()

			c, err := client.FromConfig(cfg, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			outOfSync := 0
			for _, t := range entity.Types() {
				if t == entity.TypeAuditLog || t == entity.TypeMigrationRecord {
					continue
				}
				status, err := c.ValidateSync(ctx, t)
				if err != nil {
					return err
				}
				mark := "ok"
				if !status.Synced {
					mark = "OUT OF SYNC"
					outOfSync++
				}
				cmd.Printf("%-16s legacy=%d new=%d %s\n", t, status.LegacyCount, status.NewCount, mark)
			}
			if outOfSync > 0 {
				return fmt.Errorf("%d entity types out of sync", outOfSync)
			}
			return nil
		},
	}
}
