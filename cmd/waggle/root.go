package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "waggle",
	Short: "Byzantine fault-tolerant agent swarm coordinator",
	Long: `Waggle coordinates a swarm of worker agents: it collects votes on
proposals under a timeout, detects Byzantine voters, evaluates quorum,
and dispatches remediation tasks through per-domain pipelines with
bounded concurrency.

Agents earn trust by voting honestly and lose it for Byzantine behavior
or timeouts; low-trust agents are screened out of future votes and
replaced in the worker pools.

Core capabilities:
- Quorum-based consensus with Byzantine voter exclusion
- Trust scoring that feeds back into candidate pre-screening
- Per-domain task pipelines with priority queues and capacity limits
- Byzantine retry: failed workers are swapped for fresh ones
- Background health monitoring with heartbeat, latency, and load checks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
