// Package cmd defines the CLI commands for the registry executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/api"
	"github.com/JakeFAU/crawl-registry/internal/app"
	"github.com/JakeFAU/crawl-registry/internal/config"
	"github.com/JakeFAU/crawl-registry/internal/coordinator"
	"github.com/JakeFAU/crawl-registry/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface commands use. Tests inject a fake through
// newApp.
type App interface {
	Close()
	Config() config.Config
	GetLogger() *zap.Logger
	GetServer() *api.Server
	Reconcile(ctx context.Context, teamID string) (coordinator.ReconcileReport, error)
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     app.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.NewApp(ctx, cfg, logger)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Job registry for crawl, batch scrape and deep research jobs.",
		Long: `registry tracks asynchronous crawl jobs for many teams. It accepts
submissions, records lifecycle transitions reported by workers, and serves
per-team listings of ongoing and completed jobs.`,
		SilenceUsage: true,

		// Builds the App once the flags are parsed and before any RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env REGISTRY_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReconcileCmd())

	return cmd
}

// resolveApp returns the App stored by PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
}
