// Package config handles configuration loading and management for waggle.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/wagglenet/waggle/internal/consensus"
	"github.com/wagglenet/waggle/internal/health"
	"github.com/wagglenet/waggle/internal/pipeline"
)

// Config holds all configuration for waggle.
type Config struct {
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ConsensusConfig holds quorum, screening, and trust settings.
type ConsensusConfig struct {
	// QuorumFraction is the default agreement fraction for proposals.
	QuorumFraction float64 `mapstructure:"quorum_fraction"`
	// RoundTimeout is the default vote collection deadline.
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// PerAgentVoteTimeout bounds each individual vote request.
	PerAgentVoteTimeout time.Duration `mapstructure:"per_agent_vote_timeout"`
	// PrescreenTrustFloor excludes candidates at or below this trust.
	PrescreenTrustFloor float64 `mapstructure:"prescreen_trust_floor"`
	// SuspicionFloor marks agents suspicious below this trust score.
	SuspicionFloor float64 `mapstructure:"suspicion_floor"`
	// TrustRewardVote is added for an honest non-abstain vote.
	TrustRewardVote float64 `mapstructure:"trust_reward_vote"`
	// TrustPenaltyByzantine is added for a flagged voter (negative).
	TrustPenaltyByzantine float64 `mapstructure:"trust_penalty_byzantine"`
	// TrustPenaltyTimeout is added for a timeout abstain (negative).
	TrustPenaltyTimeout float64 `mapstructure:"trust_penalty_timeout"`
	// MaxHistoryDecisions bounds the in-memory vote log.
	MaxHistoryDecisions int `mapstructure:"max_history_decisions"`
}

// DetectorConfig holds Byzantine detection heuristics.
type DetectorConfig struct {
	// SuspicionThreshold flags voters whose score exceeds it.
	SuspicionThreshold float64 `mapstructure:"suspicion_threshold"`
	// MinPlausibleLatency marks faster responses implausible.
	MinPlausibleLatency time.Duration `mapstructure:"min_plausible_latency"`
	// ExpectedLatency anchors the too-slow check.
	ExpectedLatency time.Duration `mapstructure:"expected_latency"`
	// FlipFlopWindow is the alternation length that hard-flags a voter.
	FlipFlopWindow int `mapstructure:"flip_flop_window"`
}

// PipelineConfig holds task dispatch settings.
type PipelineConfig struct {
	// MaxConcurrent is the per-domain concurrent task limit.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxByzantineRetries bounds worker replacements per task.
	MaxByzantineRetries int `mapstructure:"max_byzantine_retries"`
	// TaskTimeout bounds a single execution attempt.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// HealthConfig holds the monitor's polling and classification limits.
type HealthConfig struct {
	// Interval is the sleep between polling cycles.
	Interval time.Duration `mapstructure:"interval"`
	// HeartbeatTimeout classifies an agent unhealthy past this staleness.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// ResponseTimeLimit classifies an agent slow above this latency.
	ResponseTimeLimit time.Duration `mapstructure:"response_time_limit"`
	// LoadLimit classifies an agent overloaded above this task load.
	LoadLimit float64 `mapstructure:"load_limit"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	// Debug enables the file-based debug log under .waggle/logs.
	Debug bool `mapstructure:"debug"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (WAGGLE_*)
// 2. Project config (.waggle.yaml in current directory or parent)
// 3. User config (~/.config/waggle/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("WAGGLE")
	v.AutomaticEnv()
	v.BindEnv("consensus.quorum_fraction", "WAGGLE_QUORUM_FRACTION")
	v.BindEnv("pipeline.max_concurrent", "WAGGLE_MAX_CONCURRENT")
	v.BindEnv("logging.debug", "WAGGLE_DEBUG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("consensus.quorum_fraction", cfg.Consensus.QuorumFraction)
	v.Set("consensus.round_timeout", cfg.Consensus.RoundTimeout.String())
	v.Set("consensus.per_agent_vote_timeout", cfg.Consensus.PerAgentVoteTimeout.String())
	v.Set("consensus.prescreen_trust_floor", cfg.Consensus.PrescreenTrustFloor)
	v.Set("consensus.suspicion_floor", cfg.Consensus.SuspicionFloor)
	v.Set("consensus.trust_reward_vote", cfg.Consensus.TrustRewardVote)
	v.Set("consensus.trust_penalty_byzantine", cfg.Consensus.TrustPenaltyByzantine)
	v.Set("consensus.trust_penalty_timeout", cfg.Consensus.TrustPenaltyTimeout)
	v.Set("consensus.max_history_decisions", cfg.Consensus.MaxHistoryDecisions)
	v.Set("detector.suspicion_threshold", cfg.Detector.SuspicionThreshold)
	v.Set("detector.min_plausible_latency", cfg.Detector.MinPlausibleLatency.String())
	v.Set("detector.expected_latency", cfg.Detector.ExpectedLatency.String())
	v.Set("detector.flip_flop_window", cfg.Detector.FlipFlopWindow)
	v.Set("pipeline.max_concurrent", cfg.Pipeline.MaxConcurrent)
	v.Set("pipeline.max_byzantine_retries", cfg.Pipeline.MaxByzantineRetries)
	v.Set("pipeline.task_timeout", cfg.Pipeline.TaskTimeout.String())
	v.Set("health.interval", cfg.Health.Interval.String())
	v.Set("health.heartbeat_timeout", cfg.Health.HeartbeatTimeout.String())
	v.Set("health.response_time_limit", cfg.Health.ResponseTimeLimit.String())
	v.Set("health.load_limit", cfg.Health.LoadLimit)
	v.Set("logging.debug", cfg.Logging.Debug)

	return v.WriteConfig()
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.Consensus.QuorumFraction <= 0 || c.Consensus.QuorumFraction > 1 {
		return fmt.Errorf("consensus.quorum_fraction %v outside (0,1]", c.Consensus.QuorumFraction)
	}
	if c.Consensus.RoundTimeout <= 0 {
		return fmt.Errorf("consensus.round_timeout must be positive")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be positive")
	}
	if c.Pipeline.MaxByzantineRetries < 0 {
		return fmt.Errorf("pipeline.max_byzantine_retries must not be negative")
	}
	if c.Detector.SuspicionThreshold <= 0 || c.Detector.SuspicionThreshold >= 1 {
		return fmt.Errorf("detector.suspicion_threshold %v outside (0,1)", c.Detector.SuspicionThreshold)
	}
	return nil
}

// ConsensusOptions converts the section to the coordinator's config.
func (c *Config) ConsensusOptions() consensus.Config {
	return consensus.Config{
		PrescreenTrustFloor:   c.Consensus.PrescreenTrustFloor,
		PerAgentVoteTimeout:   c.Consensus.PerAgentVoteTimeout,
		TrustRewardVote:       c.Consensus.TrustRewardVote,
		TrustPenaltyByzantine: c.Consensus.TrustPenaltyByzantine,
		TrustPenaltyTimeout:   c.Consensus.TrustPenaltyTimeout,
		MaxHistoryDecisions:   c.Consensus.MaxHistoryDecisions,
	}
}

// DetectorOptions converts the section to the detector's config.
func (c *Config) DetectorOptions() consensus.DetectorConfig {
	cfg := consensus.DefaultDetectorConfig()
	cfg.SuspicionThreshold = c.Detector.SuspicionThreshold
	if c.Detector.MinPlausibleLatency > 0 {
		cfg.MinPlausibleLatency = c.Detector.MinPlausibleLatency
	}
	if c.Detector.ExpectedLatency > 0 {
		cfg.ExpectedLatency = c.Detector.ExpectedLatency
	}
	if c.Detector.FlipFlopWindow > 0 {
		cfg.FlipFlopWindow = c.Detector.FlipFlopWindow
	}
	return cfg
}

// PipelineOptions converts the section to the pipeline manager's config.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		MaxConcurrent:       c.Pipeline.MaxConcurrent,
		MaxByzantineRetries: c.Pipeline.MaxByzantineRetries,
		TaskTimeout:         c.Pipeline.TaskTimeout,
	}
}

// HealthOptions converts the section to the health monitor's config.
func (c *Config) HealthOptions() health.Config {
	cfg := health.DefaultConfig()
	if c.Health.Interval > 0 {
		cfg.Interval = c.Health.Interval
	}
	if c.Health.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = c.Health.HeartbeatTimeout
	}
	if c.Health.ResponseTimeLimit > 0 {
		cfg.ResponseTimeLimit = c.Health.ResponseTimeLimit
	}
	if c.Health.LoadLimit > 0 {
		cfg.LoadLimit = c.Health.LoadLimit
	}
	return cfg
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Consensus defaults
	v.SetDefault("consensus.quorum_fraction", 0.6)
	v.SetDefault("consensus.round_timeout", "30s")
	v.SetDefault("consensus.per_agent_vote_timeout", "5s")
	v.SetDefault("consensus.prescreen_trust_floor", 0.5)
	v.SetDefault("consensus.suspicion_floor", 0.3)
	v.SetDefault("consensus.trust_reward_vote", 0.05)
	v.SetDefault("consensus.trust_penalty_byzantine", -0.3)
	v.SetDefault("consensus.trust_penalty_timeout", -0.1)
	v.SetDefault("consensus.max_history_decisions", 1000)

	// Detector defaults
	v.SetDefault("detector.suspicion_threshold", 0.6)
	v.SetDefault("detector.min_plausible_latency", "10ms")
	v.SetDefault("detector.expected_latency", "1s")
	v.SetDefault("detector.flip_flop_window", 4)

	// Pipeline defaults
	v.SetDefault("pipeline.max_concurrent", 4)
	v.SetDefault("pipeline.max_byzantine_retries", 2)
	v.SetDefault("pipeline.task_timeout", "1m")

	// Health defaults
	v.SetDefault("health.interval", "15s")
	v.SetDefault("health.heartbeat_timeout", "60s")
	v.SetDefault("health.response_time_limit", "10s")
	v.SetDefault("health.load_limit", 0.9)

	// Logging defaults
	v.SetDefault("logging.debug", false)
}

// getUserConfigDir returns the XDG config directory for waggle.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "waggle")
	}

	// Fall back to ~/.config/waggle
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "waggle")
	}
	return filepath.Join(home, ".config", "waggle")
}

// findProjectConfig searches for .waggle.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".waggle.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Consensus: ConsensusConfig{
			QuorumFraction:        0.6,
			RoundTimeout:          30 * time.Second,
			PerAgentVoteTimeout:   5 * time.Second,
			PrescreenTrustFloor:   0.5,
			SuspicionFloor:        0.3,
			TrustRewardVote:       0.05,
			TrustPenaltyByzantine: -0.3,
			TrustPenaltyTimeout:   -0.1,
			MaxHistoryDecisions:   1000,
		},
		Detector: DetectorConfig{
			SuspicionThreshold:  0.6,
			MinPlausibleLatency: 10 * time.Millisecond,
			ExpectedLatency:     time.Second,
			FlipFlopWindow:      4,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:       4,
			MaxByzantineRetries: 2,
			TaskTimeout:         time.Minute,
		},
		Health: HealthConfig{
			Interval:          15 * time.Second,
			HeartbeatTimeout:  60 * time.Second,
			ResponseTimeLimit: 10 * time.Second,
			LoadLimit:         0.9,
		},
		Logging: LoggingConfig{
			Debug: false,
		},
	}
}
