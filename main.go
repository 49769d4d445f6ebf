package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/healthsync/connector-engine/migrations"
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/dhis2"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/mssql"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/mysql"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/oracle"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/postgres"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/sqlite"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/database"
	"github.com/healthsync/connector-engine/pkg/logging"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
	"github.com/healthsync/connector-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "connector-engine",
		Short:         "External integration connectors for health data workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(testConnectionCmd())
	rootCmd.AddCommand(workflowCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply migrations and start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if status {
				sqlDB := stdlib.OpenDBFromPool(db.Pool)
				defer sqlDB.Close()
				st, err := database.GetMigrationStatus(sqlDB, migrations.FS, logger)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return migrate(db, logger)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print the applied schema version instead of migrating")
	return cmd
}

// testConnectionCmd runs a connectivity test without touching the store, so it
// works before the engine database exists. Parameters are YAML, which also
// accepts JSON objects.
func testConnectionCmd() *cobra.Command {
	var (
		connectorType string
		rawConfig     string
		configFile    string
	)
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Test connection parameters and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger("production")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			raw := []byte(rawConfig)
			if configFile != "" {
				if raw, err = os.ReadFile(configFile); err != nil {
					return fmt.Errorf("failed to read %s: %w", configFile, err)
				}
			}
			var params map[string]any
			if err := yaml.Unmarshal(raw, &params); err != nil {
				return fmt.Errorf("connection parameters must be a JSON or YAML object: %w", err)
			}

			dispatcher := connector.NewDispatcher(connector.DispatcherConfig{Logger: logger})
			result := dispatcher.TestConnection(cmd.Context(), models.ParseConnectorType(connectorType), params)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return errors.New("connection test failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connectorType, "type", "", "Connector type (dhis2, postgres, mysql, sqlite, mssql, oracle)")
	cmd.Flags().StringVar(&rawConfig, "config", "{}", "Connection parameters as a JSON or YAML object")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Read connection parameters from a JSON or YAML file")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workflow and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := services.NewWorkflowFieldService(repositories.NewStore(db), logger)
			w, err := svc.CreateWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), w.ID)
			return err
		},
	}
	cmd.AddCommand(createCmd)
	return cmd
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return database.NewConnection(connectCtx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
}

func migrate(db *database.DB, logger *zap.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, migrations.FS, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
