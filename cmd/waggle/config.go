package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagglenet/waggle/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify waggle configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/waggle/config.yaml
Project-specific overrides can be placed in .waggle.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys maps key names to getters and setters over a Config.
var configKeys = map[string]struct {
	get func(*config.Config) string
	set func(*config.Config, string) error
}{
	"consensus.quorum_fraction": {
		get: func(c *config.Config) string { return formatFloat(c.Consensus.QuorumFraction) },
		set: func(c *config.Config, v string) error { return parseFloat(v, &c.Consensus.QuorumFraction) },
	},
	"consensus.round_timeout": {
		get: func(c *config.Config) string { return c.Consensus.RoundTimeout.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.Consensus.RoundTimeout) },
	},
	"consensus.prescreen_trust_floor": {
		get: func(c *config.Config) string { return formatFloat(c.Consensus.PrescreenTrustFloor) },
		set: func(c *config.Config, v string) error { return parseFloat(v, &c.Consensus.PrescreenTrustFloor) },
	},
	"detector.suspicion_threshold": {
		get: func(c *config.Config) string { return formatFloat(c.Detector.SuspicionThreshold) },
		set: func(c *config.Config, v string) error { return parseFloat(v, &c.Detector.SuspicionThreshold) },
	},
	"pipeline.max_concurrent": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Pipeline.MaxConcurrent) },
		set: func(c *config.Config, v string) error { return parseInt(v, &c.Pipeline.MaxConcurrent) },
	},
	"pipeline.max_byzantine_retries": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Pipeline.MaxByzantineRetries) },
		set: func(c *config.Config, v string) error { return parseInt(v, &c.Pipeline.MaxByzantineRetries) },
	},
	"pipeline.task_timeout": {
		get: func(c *config.Config) string { return c.Pipeline.TaskTimeout.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.Pipeline.TaskTimeout) },
	},
	"health.interval": {
		get: func(c *config.Config) string { return c.Health.Interval.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.Health.Interval) },
	},
	"logging.debug": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Logging.Debug) },
		set: func(c *config.Config, v string) error { return parseBool(v, &c.Logging.Debug) },
	},
}

// displayOrder keeps `waggle config` output stable.
var displayOrder = []string{
	"consensus.quorum_fraction",
	"consensus.round_timeout",
	"consensus.prescreen_trust_floor",
	"detector.suspicion_threshold",
	"pipeline.max_concurrent",
	"pipeline.max_byzantine_retries",
	"pipeline.task_timeout",
	"health.interval",
	"logging.debug",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range displayOrder {
		fmt.Printf("%s: %s\n", key, configKeys[key].get(cfg))
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	entry, ok := configKeys[key]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	fmt.Println(entry.get(cfg))
}

// setConfigKey updates a value and saves the user config.
func setConfigKey(cfg *config.Config, key, value string) {
	entry, ok := configKeys[key]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	if err := entry.set(cfg, value); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid value for %s: %v\n", key, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Rejected: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string, dst *float64) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseInt(s string, dst *int) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseBool(s string, dst *bool) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
