package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vollocare/autocoder/internal/config"
	"github.com/vollocare/autocoder/internal/daemon"
	"github.com/vollocare/autocoder/internal/logging"
	"github.com/vollocare/autocoder/internal/version"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:     "autocoderd",
		Short:   "autocoder daemon service",
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Color)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := daemon.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "Path to config file (default: ~/.autocoder.yaml merged with ./.autocoder.yaml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
