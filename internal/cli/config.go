package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vollocare/autocoder/internal/config"
)

// NewConfigCmd groups configuration helpers.
func NewConfigCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults, files and environment) as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Settings(opts.ConfigPath)
			if err != nil {
				return err
			}
			redactKeys(settings)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

// redactKeys masks provider API keys.
func redactKeys(settings map[string]interface{}) {
	providers, ok := settings["providers"].(map[string]interface{})
	if !ok {
		return
	}
	for _, p := range providers {
		entry, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if key, ok := entry["api_key"].(string); ok && key != "" {
			entry["api_key"] = "****"
		}
	}
}
