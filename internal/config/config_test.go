package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
version: "0.1.0"
providers:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    api_key: dummy
    timeout: 30s
models:
  main:
    provider: openai
    model: gpt-4o
    temperature: 0.2
    max_tokens: 2048
    default: true
generation:
  max_iterations: 6
tests:
  runner: go
`

	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Models["main"].Provider)
	require.Len(t, cfg.Providers, 1)
	require.Equal(t, 6, cfg.Generation.MaxIterations)
	require.Equal(t, "go", cfg.Tests.Runner)
	require.Equal(t, 30*time.Second, cfg.Providers["openai"].Timeout)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: debug\n"), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Generation.MaxIterations)
	require.Equal(t, 0.7, cfg.Generation.TemperatureStart)
	require.Equal(t, 0.05, cfg.Generation.TemperatureStep)
	require.Equal(t, 0.4, cfg.Generation.TemperatureFloor)
	require.Equal(t, time.Second, cfg.Generation.RetryDelay)
	require.Equal(t, 32000, cfg.Generation.TokenLimit)
	require.Equal(t, 20, cfg.Snapshot.MaxFiles)
	require.Equal(t, 20000, cfg.Snapshot.MaxTotalChars)
	require.Equal(t, int64(51200), cfg.Snapshot.MaxFileBytes)
	require.Equal(t, 5, cfg.Refine.MaxRepoFiles)
	require.Equal(t, []string{"pytest", "mypy", "flake8"}, cfg.Tests.DefaultPackages)
	require.Equal(t, "http://localhost:11434/v1", cfg.Providers["local"].BaseURL)
	require.True(t, cfg.Models["coder"].Default)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	configYAML := `
providers:
  openrouter:
    type: openrouter
    base_url: https://openrouter.ai/api/v1
    api_key: dummy
models:
  coder:
    provider: openrouter
    model: qwen2.5
    default: true
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	t.Setenv("AUTOCODER_GENERATION_MAX_ITERATIONS", "12")
	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Generation.MaxIterations)
}

func TestSettingsMergesProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("tests:\n  runner: go\n"), 0o644))

	settings, err := Settings("")
	require.NoError(t, err)
	tests, ok := settings["tests"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "go", tests["runner"])
}

func TestValidateFailsOnUnknownProvider(t *testing.T) {
	cfg := Config{
		Providers: map[string]ProviderConfig{
			"openai": {Type: "openai"},
		},
		Models: map[string]ModelConfig{
			"broken": {Provider: "missing", Default: true},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsUnknownRunner(t *testing.T) {
	cfg := validConfig()
	cfg.Tests.Runner = "cargo"
	require.ErrorContains(t, cfg.Validate(), "tests.runner")
}

func TestValidateRejectsInvertedTemperatureSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.TemperatureStart = 0.3
	require.Error(t, cfg.Validate())
}

func validConfig() Config {
	return Config{
		Providers: map[string]ProviderConfig{"local": {Type: "openai"}},
		Models:    map[string]ModelConfig{"coder": {Provider: "local", Default: true}},
		Generation: GenerationConfig{
			MaxIterations:    3,
			TemperatureStart: 0.7,
			TemperatureStep:  0.05,
			TemperatureFloor: 0.4,
			TokenLimit:       32000,
			CharsPerToken:    4,
			MaxRetries:       3,
			BackoffFactor:    1.5,
		},
		Snapshot: SnapshotConfig{MaxFiles: 20, MaxTotalChars: 20000, MaxFileBytes: 51200},
		Tests:    TestsConfig{Runner: "python"},
	}
}
