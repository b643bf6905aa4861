package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/leadroute/app"
	"github.com/kilianp07/leadroute/config"
	"github.com/kilianp07/leadroute/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "leadroute",
	Short:        "Lead distribution dispatch service",
	SilenceUsage: true,
	RunE:         serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume distribution commands and contractor responses",
	RunE:  serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

// openClient builds a service for one-shot commands. The broker client id
// is made unique so the command does not take over the server's session.
func openClient(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Broker.ClientID = cfg.Broker.ClientID + "-cli-" + uuid.NewString()[:8]
	cfg.Metrics.PrometheusPort = "off"
	cfg.Audit.Backend = "none"
	return app.New(ctx, cfg, app.WithLogger(logger.NewLeveled("cli", "warn")))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
