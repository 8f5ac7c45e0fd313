package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vollocare/autocoder/internal/llm/configbuilder"
	"github.com/vollocare/autocoder/internal/testrun"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			registry, err := configbuilder.BuildRegistryFromConfig(cfg)
			if err != nil {
				return err
			}
			_, route, err := registry.Resolve(cfg.Generation.Model)
			if err != nil {
				return err
			}
			runner, err := testrun.NewRunner(cfg.Tests, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %s\n", len(cfg.Providers), strings.Join(registry.Models(), ", "))
			fmt.Fprintf(out, "Generation model: %s via %s (max iterations %d)\n", route.Model, route.Provider, cfg.Generation.MaxIterations)
			if path, err := exec.LookPath(runner.Binary()); err == nil {
				fmt.Fprintf(out, "Test runner %s: %s\n", runner.Name(), path)
			} else {
				fmt.Fprintf(out, "Test runner %s: %s not found on PATH\n", runner.Name(), runner.Binary())
			}
			fmt.Fprintf(out, "Daemon: %s (%s), metrics: %v\n", cfg.Server.Addr, cfg.Server.Transport, cfg.Server.MetricsEnabled)
			return nil
		},
	}
}
