// Package config loads the engine's layered configuration: built-in
// defaults, then a global file, then a project-local file, then
// environment variables, each overriding the last. The layering and
// the "check a couple of candidate paths, merge the first one found"
// trick are both taken from the teacher's Load() (same package, prior
// revision).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the engine's full configuration surface (spec §6's
// environment variable list plus the CLI-flag defaults it backs).
type Config struct {
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Session    SessionConfig    `mapstructure:"session"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Context    ContextConfig    `mapstructure:"context"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

// ProvidersConfig carries the two LLM providers' API keys and the
// retry/backoff/throughput knobs the Router applies uniformly (spec
// §4.E/F).
type ProvidersConfig struct {
	ProviderAKey     string        `mapstructure:"provider_a_key"`
	ProviderBKey     string        `mapstructure:"provider_b_key"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseWait    time.Duration `mapstructure:"retry_base_wait"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
}

// SessionConfig controls how a Session's terminal is driven and
// supervised (spec §4.A, §5).
type SessionConfig struct {
	ProjectPath       string        `mapstructure:"project_path"`
	DisplayMode       string        `mapstructure:"display_mode"` // background | visible
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// WatchdogConfig is the Supervisor's self-health poller (spec §5).
type WatchdogConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AnalyzerConfig tunes how much scrollback the Log Watcher's LLM
// fallback is shown (spec §4.C).
type AnalyzerConfig struct {
	TruncateLength int     `mapstructure:"truncate_length"`
	StartRatio     float64 `mapstructure:"start_ratio"`
}

// ContextConfig bounds conversation history kept across the run,
// separate from ContextBudget's own token accounting (spec §9's open
// question: the two caps are deliberately independent).
type ContextConfig struct {
	HistoryCap int `mapstructure:"history_cap"`
}

// EscalationConfig bounds how many ENFORCE_TASK cycles the Supervisor
// allows before escalating to a human (spec §4.J, Testable Property 10).
type EscalationConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// PathsConfig is where the engine reads/writes its own artifacts.
type PathsConfig struct {
	LogDir   string `mapstructure:"log_dir"`
	StateDir string `mapstructure:"state_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig controls the localhost-only status/attach server
// (interfaces/http); it is off by default, started only via the
// `serve` CLI command.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from, in ascending priority: built-in defaults,
// the global config at ~/.bender/config.yaml, a project-local
// config.yaml (./config/config.yaml or ./config.yaml, first found),
// then BENDER_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".bender")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			local := viper.New()
			local.SetConfigFile(localPath)
			if err := local.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(local.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("BENDER")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults installs every spec §6 default so the engine runs with
// zero configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.max_retries", 3)
	v.SetDefault("providers.retry_base_wait", "2s")
	v.SetDefault("providers.rate_limit_per_min", 60)

	v.SetDefault("session.project_path", ".")
	v.SetDefault("session.display_mode", "background")
	v.SetDefault("session.poll_interval", "2s")
	v.SetDefault("session.idle_timeout", "10m")

	v.SetDefault("watchdog.interval", "30s")
	v.SetDefault("watchdog.timeout", "10s")

	v.SetDefault("analyzer.truncate_length", 3000)
	v.SetDefault("analyzer.start_ratio", 0.4)

	v.SetDefault("context.history_cap", 100)

	v.SetDefault("escalation.threshold", 3)

	v.SetDefault("paths.log_dir", "logs")
	v.SetDefault("paths.state_dir", "state")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", "127.0.0.1:8642")
}
