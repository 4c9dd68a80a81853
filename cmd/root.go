// Package cmd defines the provider-crawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/app"
	"github.com/JakeFAU/provider-directory-crawler/internal/config"
	"github.com/JakeFAU/provider-directory-crawler/internal/logging"
)

// env carries what PersistentPreRunE prepared for the subcommand. The App is
// built on first use and closed when the command returns.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

// newApp builds the services of one command. Tests replace it.
var newApp = app.New

// newLogger is replaced by tests to keep output quiet.
var newLogger = logging.New

func newRootCmd(e *env) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "provider-crawler",
		Short: "Crawls a healthcare provider directory region by region into Postgres.",
		Long: `provider-crawler pages through a provider directory's search for each
stored region, normalizes every entry, and upserts it into Postgres keyed by
the directory's own id. Configuration comes from an optional YAML file and
PROVIDERS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			e.cfg = cfg
			e.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newCrawlCmd(e),
		newRegionsCmd(e),
		newMigrateCmd(e),
		newServeCmd(e),
		newExportCmd(e),
	)
	return cmd
}

// services builds the App on first use. opts only apply to that first build.
func (e *env) services(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if e.logger == nil {
		return nil, errors.New("command environment not initialized")
	}
	if e.app == nil {
		a, err := newApp(ctx, e.cfg, e.logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("initialize application services: %w", err)
		}
		e.app = a
	}
	return e.app, nil
}

func (e *env) close() {
	if e.app != nil {
		_ = e.app.Close()
		e.app = nil
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e := &env{}
	defer e.close()

	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
