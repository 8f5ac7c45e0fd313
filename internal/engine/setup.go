package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/budget"
	"github.com/vollocare/autocoder/internal/codegen"
	"github.com/vollocare/autocoder/internal/config"
	"github.com/vollocare/autocoder/internal/llm/configbuilder"
	"github.com/vollocare/autocoder/internal/observability"
	"github.com/vollocare/autocoder/internal/refine"
	"github.com/vollocare/autocoder/internal/snapshot"
	"github.com/vollocare/autocoder/internal/specparse"
	"github.com/vollocare/autocoder/internal/testrun"
)

// FromConfig wires an Engine with the configured providers, runner and limits.
// metrics may be nil.
func FromConfig(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	runner, err := testrun.NewRunner(cfg.Tests, logger)
	if err != nil {
		return nil, err
	}

	gen := cfg.Generation
	_, route, err := registry.Resolve(gen.Model)
	if err != nil {
		return nil, err
	}
	client := codegen.New(registry, codegen.Options{
		TokenLimit:     gen.TokenLimit,
		ReservedTokens: gen.ReservedTokens,
		CharsPerToken:  gen.CharsPerToken,
		MaxRetries:     gen.MaxRetries,
		RetryBackoff:   gen.RetryBackoff,
		BackoffFactor:  gen.BackoffFactor,
	}, logger).WithCounter(budget.NewCounter(route.Model, gen.CharsPerToken))
	if metrics != nil {
		client = client.WithMetrics(metrics)
	}

	priority := cfg.Snapshot.Priority
	if len(priority) == 0 {
		priority = runner.SourcePatterns()
	}
	snaps := snapshot.New(snapshot.Options{
		MaxFiles:      cfg.Snapshot.MaxFiles,
		MaxTotalChars: cfg.Snapshot.MaxTotalChars,
		MaxFileBytes:  cfg.Snapshot.MaxFileBytes,
		Priority:      priority,
		Exclude:       cfg.Snapshot.Exclude,
	}, logger)

	language := Language(runner.Name())
	systemPrompt := gen.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPrompt(language)
	}

	deps := Deps{
		Parser:    specparse.New(language, logger),
		Generator: client,
		Tests: testrun.NewInvoker(runner, testrun.Options{
			InstallDependencies: cfg.Tests.InstallDependencies,
			Timeout:             cfg.Tests.Timeout,
			InstallTimeout:      cfg.Tests.InstallTimeout,
		}, logger),
		Snapshots: snaps,
		Refiner: refine.NewBuilder(refine.FilenameMatcher{}, snaps, refine.Options{
			MaxRepoFiles:         cfg.Refine.MaxRepoFiles,
			LargeDiagnosticChars: cfg.Refine.LargeDiagnosticChars,
			RepoName:             gen.RepoName,
		}, logger),
	}
	if metrics != nil {
		deps.Metrics = metrics
	}

	return New(deps, Options{
		Model:            gen.Model,
		SystemPrompt:     systemPrompt,
		RepoName:         gen.RepoName,
		TemperatureStart: gen.TemperatureStart,
		TemperatureStep:  gen.TemperatureStep,
		TemperatureFloor: gen.TemperatureFloor,
		RetryDelay:       gen.RetryDelay,
	}, logger), nil
}

// Language maps a test runner name to the language named in prompts.
func Language(runner string) string {
	if runner == "go" {
		return "Go"
	}
	return "Python"
}
