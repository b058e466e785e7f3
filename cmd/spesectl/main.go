// Command spesectl inspects and maintains the expense database: it applies
// migrations, records data, materializes recurring rules and prints budget
// reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spese/internal/amqp"
	"spese/internal/cli"
	"spese/internal/config"
	"spese/internal/log"
	"spese/internal/recurrence"
	"spese/internal/services"
	"spese/internal/storage"
)

// app holds the lazily opened resources shared by subcommands.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	repo         *storage.SQLiteRepository
	amqpClient   *amqp.Client
	materializer *recurrence.CachedMaterializer
}

func (a *app) repository() (*storage.SQLiteRepository, error) {
	if a.repo == nil {
		repo, err := cli.InitSQLite(a.logger.WithComponent(log.ComponentStorage), a.cfg.SQLiteDBPath)
		if err != nil {
			return nil, err
		}
		a.repo = repo
	}
	return a.repo, nil
}

// publisher connects to AMQP on first use; it returns nil when AMQP is not configured.
func (a *app) publisher() (services.EventPublisher, error) {
	if a.amqpClient == nil {
		client, err := cli.InitAMQP(a.logger.WithComponent(log.ComponentAMQP), a.cfg)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, nil
		}
		a.amqpClient = client
	}
	return a.amqpClient, nil
}

func (a *app) occurrences() *recurrence.CachedMaterializer {
	if a.materializer == nil {
		a.materializer, _ = cli.NewMaterializer(a.cfg)
	}
	return a.materializer
}

func (a *app) close() error {
	var errs []error
	if a.amqpClient != nil {
		errs = append(errs, a.amqpClient.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spesectl",
		Short:         "Manage recurring expenses and budgets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
				cfg.SQLiteDBPath = dbPath
			}
			a.cfg = cfg
			a.logger = cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentCLI)
			cmd.SetContext(log.IntoContext(cmd.Context(), a.logger))
			return nil
		},
	}
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides SQLITE_DB_PATH)")

	rootCmd.AddCommand(
		migrateCommand(a),
		categoryCommand(a),
		expenseCommand(a),
		ruleCommand(a),
		budgetCommand(a),
		materializeCommand(a),
		budgetStatusCommand(a),
		summaryCommand(a),
		runRecurringCommand(a),
		eventsCommand(a),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
