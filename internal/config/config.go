package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the per-user and per-project configuration file name.
const FileName = ".autocoder.yaml"

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version    string                    `mapstructure:"version"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     map[string]ModelConfig    `mapstructure:"models"`
	Generation GenerationConfig          `mapstructure:"generation"`
	Snapshot   SnapshotConfig            `mapstructure:"snapshot"`
	Refine     RefineConfig              `mapstructure:"refine"`
	Tests      TestsConfig               `mapstructure:"tests"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Server     ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents LLM provider configuration such as OpenAI-compatible gateways or Ollama.
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // openai, openrouter, ollama, vllm, lmstudio, custom
	BaseURL string        `mapstructure:"base_url"` // API base URL
	APIKey  string        `mapstructure:"api_key"`  // optional API key
	Timeout time.Duration `mapstructure:"timeout"`  // request timeout
}

// ModelConfig binds a logical model name to a provider entry and sampling parameters.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Seed        int     `mapstructure:"seed"`
	Default     bool    `mapstructure:"default"`
}

// GenerationConfig drives the generate/test/refine loop and the model client.
type GenerationConfig struct {
	Model            string        `mapstructure:"model"` // logical model name, empty for default
	MaxIterations    int           `mapstructure:"max_iterations"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
	RepoName         string        `mapstructure:"repo_name"`
	TemperatureStart float64       `mapstructure:"temperature_start"`
	TemperatureStep  float64       `mapstructure:"temperature_step"`
	TemperatureFloor float64       `mapstructure:"temperature_floor"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"` // pause between failed iterations
	TokenLimit       int           `mapstructure:"token_limit"`
	ReservedTokens   int           `mapstructure:"reserved_tokens"`
	CharsPerToken    int           `mapstructure:"chars_per_token"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
}

// SnapshotConfig bounds the repository snapshot sent as model context.
type SnapshotConfig struct {
	MaxFiles      int      `mapstructure:"max_files"`
	MaxTotalChars int      `mapstructure:"max_total_chars"`
	MaxFileBytes  int64    `mapstructure:"max_file_bytes"`
	Priority      []string `mapstructure:"priority"` // empty: runner defaults
	Exclude       []string `mapstructure:"exclude"`  // extra globs on top of the built-in denylist
}

// RefineConfig controls how failure diagnostics are folded into the next prompt.
type RefineConfig struct {
	MaxRepoFiles         int `mapstructure:"max_repo_files"`
	LargeDiagnosticChars int `mapstructure:"large_diagnostic_chars"`
}

// TestsConfig selects and tunes the test runner.
type TestsConfig struct {
	Runner              string        `mapstructure:"runner"` // python or go
	Python              string        `mapstructure:"python"`
	GoBinary            string        `mapstructure:"go_binary"`
	DefaultPackages     []string      `mapstructure:"default_packages"`
	InstallDependencies bool          `mapstructure:"install_dependencies"`
	Timeout             time.Duration `mapstructure:"timeout"`
	InstallTimeout      time.Duration `mapstructure:"install_timeout"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
	Color  bool   `mapstructure:"color"`
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path. Without a path it merges
// $HOME/.autocoder.yaml and ./.autocoder.yaml, both optional.
// Environment variables override file values (prefix: AUTOCODER_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyLocalModel(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Settings returns the merged key/value view (defaults, files, env) without validation.
func Settings(path string) (map[string]interface{}, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func read(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	for _, candidate := range searchPaths() {
		if err := mergeIfExists(v, candidate); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// searchPaths lists global then project configuration files; later files win.
func searchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	return append(paths, FileName)
}

func mergeIfExists(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// applyLocalModel points at a local OpenAI-compatible endpoint when no providers are configured.
func applyLocalModel(cfg *Config) {
	if len(cfg.Providers) > 0 || len(cfg.Models) > 0 {
		return
	}
	cfg.Providers = map[string]ProviderConfig{
		"local": {Type: "openai", BaseURL: "http://localhost:11434/v1", Timeout: 240 * time.Second},
	}
	cfg.Models = map[string]ModelConfig{
		"coder": {
			Provider:    "local",
			Model:       "qwen2.5-coder:32b",
			Temperature: 0.6,
			TopP:        0.9,
			MaxTokens:   8192,
			Default:     true,
		},
	}
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)

	v.SetDefault("generation.model", "")
	v.SetDefault("generation.max_iterations", 50)
	v.SetDefault("generation.system_prompt", "")
	v.SetDefault("generation.repo_name", "")
	v.SetDefault("generation.temperature_start", 0.7)
	v.SetDefault("generation.temperature_step", 0.05)
	v.SetDefault("generation.temperature_floor", 0.4)
	v.SetDefault("generation.retry_delay", time.Second)
	v.SetDefault("generation.token_limit", 32000)
	v.SetDefault("generation.reserved_tokens", 500)
	v.SetDefault("generation.chars_per_token", 4)
	v.SetDefault("generation.max_retries", 3)
	v.SetDefault("generation.retry_backoff", 2*time.Second)
	v.SetDefault("generation.backoff_factor", 1.5)

	v.SetDefault("snapshot.max_files", 20)
	v.SetDefault("snapshot.max_total_chars", 20000)
	v.SetDefault("snapshot.max_file_bytes", 50*1024)
	v.SetDefault("snapshot.priority", []string{})
	v.SetDefault("snapshot.exclude", []string{})

	v.SetDefault("refine.max_repo_files", 5)
	v.SetDefault("refine.large_diagnostic_chars", 1000)

	v.SetDefault("tests.runner", "python")
	v.SetDefault("tests.python", "python3")
	v.SetDefault("tests.go_binary", "go")
	v.SetDefault("tests.default_packages", []string{"pytest", "mypy", "flake8"})
	v.SetDefault("tests.install_dependencies", true)
	v.SetDefault("tests.timeout", 10*time.Minute)
	v.SetDefault("tests.install_timeout", 5*time.Minute)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	var defaultFound bool
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}

		if m.TopP < 0 || m.TopP > 1 {
			return fmt.Errorf("model %q top_p must be within [0,1]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}

		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	g := c.Generation
	if g.Model != "" {
		if _, ok := c.Models[g.Model]; !ok {
			return fmt.Errorf("generation.model references unknown model %q", g.Model)
		}
	}
	if g.MaxIterations <= 0 {
		return errors.New("generation.max_iterations must be > 0")
	}
	if g.TemperatureFloor < 0 || g.TemperatureStart < g.TemperatureFloor {
		return errors.New("generation.temperature_start must be >= generation.temperature_floor >= 0")
	}
	if g.TemperatureStep < 0 {
		return errors.New("generation.temperature_step must be >= 0")
	}
	if g.RetryDelay < 0 {
		return errors.New("generation.retry_delay must be >= 0")
	}
	if g.TokenLimit <= 0 {
		return errors.New("generation.token_limit must be > 0")
	}
	if g.ReservedTokens < 0 {
		return errors.New("generation.reserved_tokens must be >= 0")
	}
	if g.CharsPerToken <= 0 {
		return errors.New("generation.chars_per_token must be > 0")
	}
	if g.MaxRetries <= 0 {
		return errors.New("generation.max_retries must be > 0")
	}
	if g.BackoffFactor < 1 {
		return errors.New("generation.backoff_factor must be >= 1")
	}

	if c.Snapshot.MaxFiles <= 0 {
		return errors.New("snapshot.max_files must be > 0")
	}
	if c.Snapshot.MaxTotalChars <= 0 {
		return errors.New("snapshot.max_total_chars must be > 0")
	}
	if c.Snapshot.MaxFileBytes <= 0 {
		return errors.New("snapshot.max_file_bytes must be > 0")
	}

	if c.Refine.MaxRepoFiles < 0 {
		return errors.New("refine.max_repo_files must be >= 0")
	}
	if c.Refine.LargeDiagnosticChars < 0 {
		return errors.New("refine.large_diagnostic_chars must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Tests.Runner)) {
	case "python", "go":
	default:
		return fmt.Errorf("tests.runner must be one of python or go, got %q", c.Tests.Runner)
	}
	if c.Tests.Timeout < 0 || c.Tests.InstallTimeout < 0 {
		return errors.New("tests timeouts must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
