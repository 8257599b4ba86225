package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the report engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Search    SearchConfig    `mapstructure:"search"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Report    ReportConfig    `mapstructure:"report"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // complexity scoring + section planning
	Synthesis string `mapstructure:"synthesis"` // per-section synthesis
	Coherence string `mapstructure:"coherence"` // inter-section coherence analysis
	Summary   string `mapstructure:"summary"`   // report summary generation
	Fallback  string `mapstructure:"fallback"`
}

// ModelFor resolves the routing entry for a stage, falling back when unset.
func (r LLMRoutingConfig) ModelFor(stage string) string {
	var m string
	switch stage {
	case "planning":
		m = r.Planning
	case "synthesis":
		m = r.Synthesis
	case "coherence":
		m = r.Coherence
	case "summary":
		m = r.Summary
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// SearchConfig contains web search collaborator settings
type SearchConfig struct {
	Provider      string        `mapstructure:"provider"` // serper, brave, searxng
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"` // searxng instance URL
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// Normalize applies defaults for unset search values.
func (s SearchConfig) Normalize() SearchConfig {
	if strings.TrimSpace(s.Provider) == "" {
		s.Provider = "searxng"
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 8
	}
	if s.Timeout <= 0 {
		s.Timeout = 20 * time.Second
	}
	if s.RatePerSecond <= 0 {
		s.RatePerSecond = 2
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "serper", "brave":
		if strings.TrimSpace(s.APIKey) == "" {
			return fmt.Errorf("search.api_key required for provider %q", s.Provider)
		}
	case "searxng":
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("search.base_url required for provider searxng")
		}
	default:
		return fmt.Errorf("unsupported search provider: %s", s.Provider)
	}
	return nil
}

// ExtractConfig contains content extraction collaborator settings
type ExtractConfig struct {
	Fetcher       string        `mapstructure:"fetcher"` // chromedp, http
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxChars      int           `mapstructure:"max_chars"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// Normalize applies defaults for unset extraction values.
func (e ExtractConfig) Normalize() ExtractConfig {
	if strings.TrimSpace(e.Fetcher) == "" {
		e.Fetcher = "http"
	}
	if e.Timeout <= 0 {
		e.Timeout = 15 * time.Second
	}
	if e.MaxChars <= 0 {
		e.MaxChars = 20000
	}
	if e.RatePerSecond <= 0 {
		e.RatePerSecond = 4
	}
	return e
}

func (e ExtractConfig) Validate() error {
	switch e.Fetcher {
	case "chromedp", "http":
		return nil
	default:
		return fmt.Errorf("unsupported extract fetcher: %s", e.Fetcher)
	}
}

// ReportConfig controls pipeline-wide knobs of the report engine
type ReportConfig struct {
	MaxConcurrentSections int           `mapstructure:"max_concurrent_sections"`
	RunTimeout            time.Duration `mapstructure:"run_timeout"`
	SourcePolicyMode      string        `mapstructure:"source_policy_mode"` // complement, prefer-suggested, exclusive
	ExplorationResults    int           `mapstructure:"exploration_results"`
}

// Normalize applies defaults for unset report values.
func (r ReportConfig) Normalize() ReportConfig {
	if r.MaxConcurrentSections <= 0 {
		r.MaxConcurrentSections = 3
	}
	if r.RunTimeout <= 0 {
		r.RunTimeout = 10 * time.Minute
	}
	if strings.TrimSpace(r.SourcePolicyMode) == "" {
		r.SourcePolicyMode = "complement"
	}
	if r.ExplorationResults <= 0 {
		r.ExplorationResults = 8
	}
	return r
}

func (r ReportConfig) Validate() error {
	switch r.SourcePolicyMode {
	case "complement", "prefer-suggested", "exclusive":
	default:
		return fmt.Errorf("report.source_policy_mode must be complement, prefer-suggested or exclusive")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10030")
	viper.SetDefault("report.max_concurrent_sections", 3)
	viper.SetDefault("report.run_timeout", "10m")
	viper.SetDefault("report.source_policy_mode", "complement")
	viper.SetDefault("report.exploration_results", 8)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("REPORTCRAFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Search = config.Search.Normalize()
	config.Extract = config.Extract.Normalize()
	config.Report = config.Report.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Extract.Validate(); err != nil {
		panic(err)
	}
	if err := config.Report.Validate(); err != nil {
		panic(err)
	}
	return &config
}
