package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/engine"
)

const watchDebounce = 500 * time.Millisecond

// NewWatchCmd regenerates whenever the specification file changes.
func NewWatchCmd(opts *Options) *cobra.Command {
	var output string
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "watch SPEC",
		Short: "Generate code, then regenerate each time the specification is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			eng, err := engine.FromConfig(cfg, nil, logger)
			if err != nil {
				return err
			}
			if maxIterations <= 0 {
				maxIterations = cfg.Generation.MaxIterations
			}
			return watchSpec(commandContext(cmd), eng, args[0], output, maxIterations, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "output", "Output directory")
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "Maximum generate/test iterations (default: generation.max_iterations)")
	return cmd
}

func watchSpec(ctx context.Context, gen generator, spec, output string, maxIterations int, out io.Writer, logger *zap.Logger) error {
	abs, err := filepath.Abs(spec)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// Editors often replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	run := func() {
		content, err := os.ReadFile(abs)
		if err != nil {
			logger.Warn("cannot read specification", zap.String("spec", abs), zap.Error(err))
			return
		}
		report, err := gen.Generate(ctx, string(content), output, maxIterations)
		if err != nil {
			logger.Error("generation failed", zap.String("spec", abs), zap.Error(err))
			return
		}
		printReport(out, spec, report)
	}

	run()
	fmt.Fprintf(out, "watching %s for changes (Ctrl+C to stop)\n", spec)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-debounce:
			debounce = nil
			logger.Info("specification changed, regenerating", zap.String("spec", abs))
			run()
		}
	}
}
