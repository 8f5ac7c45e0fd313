package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vollocare/autocoder/internal/engine"
	"github.com/vollocare/autocoder/internal/specparse"
)

type generateFlags struct {
	output        string
	maxIterations int
	parallel      int
}

// NewGenerateCmd runs generation sessions in-process.
func NewGenerateCmd(opts *Options) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate SPEC [SPEC...]",
		Short: "Generate code from one or more specification files",
		Long: "Generate code from markdown specifications. A single specification is written to --output; " +
			"with several, each one gets its own directory named after the specification file. " +
			"A directory argument expands to the specification files it contains.",
		Args: cobra.MinimumNArgs(1),
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
			specs, err := expandSpecs(args, logger)
			if err != nil {
				return err
			}
			maxIterations := flags.maxIterations
			if maxIterations <= 0 {
				maxIterations = cfg.Generation.MaxIterations
			}
			return runGenerate(commandContext(cmd), eng, specs, flags.output, maxIterations, flags.parallel, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "output", "Output directory")
	cmd.Flags().IntVarP(&flags.maxIterations, "max-iterations", "n", 0, "Maximum generate/test iterations (default: generation.max_iterations)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 4, "Maximum concurrent sessions when several specifications are given")
	return cmd
}

// generator is the part of engine.Engine the CLI drives.
type generator interface {
	Generate(ctx context.Context, specContent, outputDir string, maxIterations int, observers ...engine.Observer) (engine.Report, error)
}

func runGenerate(ctx context.Context, gen generator, specs []string, output string, maxIterations, parallel int, out io.Writer, logger *zap.Logger) error {
	dirs, err := outputDirs(specs, output)
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, spec := range specs {
		spec := spec
		dir := dirs[i]
		g.Go(func() error {
			content, err := os.ReadFile(spec)
			if err != nil {
				return fmt.Errorf("read specification: %w", err)
			}
			logger.Info("starting generation", zap.String("spec", spec), zap.String("output_dir", dir))
			report, err := gen.Generate(ctx, string(content), dir, maxIterations)
			if err != nil {
				return fmt.Errorf("%s: %w", spec, err)
			}

			mu.Lock()
			defer mu.Unlock()
			printReport(out, spec, report)
			if !report.Success {
				failed = append(failed, spec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d specification(s) did not produce passing code: %s",
			len(failed), len(specs), strings.Join(failed, ", "))
	}
	return nil
}

// expandSpecs replaces directory arguments with the specification files inside them.
func expandSpecs(args []string, logger *zap.Logger) ([]string, error) {
	var specs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("specification %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !specparse.IsSpecFile(arg) {
				logger.Warn("file does not look like a specification", zap.String("spec", arg))
			}
			specs = append(specs, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		found := 0
		for _, e := range entries {
			p := filepath.Join(arg, e.Name())
			if !e.IsDir() && specparse.IsSpecFile(p) {
				specs = append(specs, p)
				found++
			}
		}
		if found == 0 {
			return nil, fmt.Errorf("no specification files in %s", arg)
		}
	}
	return specs, nil
}

// outputDirs maps each specification to its output directory.
func outputDirs(specs []string, output string) ([]string, error) {
	if len(specs) == 1 {
		return []string{output}, nil
	}
	dirs := make([]string, len(specs))
	seen := make(map[string]string, len(specs))
	for i, spec := range specs {
		name := strings.TrimSuffix(filepath.Base(spec), filepath.Ext(spec))
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("specifications %s and %s would share output directory %q", prev, spec, name)
		}
		seen[name] = spec
		dirs[i] = filepath.Join(output, name)
	}
	return dirs, nil
}

func printReport(out io.Writer, spec string, r engine.Report) {
	status := "FAILED"
	if r.Success {
		status = "OK"
	}
	fmt.Fprintf(out, "[%s] %s: %s after %d iteration(s), output in %s\n", status, spec, r.State, r.Iterations, r.OutputDir)
	if r.Reason != "" {
		fmt.Fprintf(out, "  reason: %s\n", r.Reason)
	}
	if !r.Success && r.LastError != "" {
		fmt.Fprintf(out, "  last error:\n%s\n", indent(r.LastError, "    "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
