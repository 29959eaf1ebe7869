package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagglenet/waggle/internal/config"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/internal/state"
	"github.com/wagglenet/waggle/internal/swarm"
	"github.com/wagglenet/waggle/pkg/models"
)

var (
	runQuorum  float64
	runTimeout time.Duration
	runNoAudit bool
	runRatify  bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a simulated swarm scenario",
	Long: `Run a scenario file against a simulated agent swarm.

The scenario declares the agent roster (with scripted behaviors such as
honest, contrarian, silent, or byzantine), the tasks to dispatch, and
the proposals to put to a consensus vote. Results are printed as they
complete and recorded in the project audit database.

Examples:
  waggle run scenario.yaml
  waggle run scenario.yaml --quorum 0.75
  waggle run scenario.yaml --ratify    # put task results to a vote`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	runCmd.Flags().Float64Var(&runQuorum, "quorum", 0, "Override the quorum fraction for all proposals")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Override the round timeout for all proposals")
	runCmd.Flags().BoolVar(&runNoAudit, "no-audit", false, "Skip recording results to the audit database")
	runCmd.Flags().BoolVar(&runRatify, "ratify", false, "Ratify task results with a consensus vote")
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	scenario, err := rpc.LoadScenario(args[0])
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	opts := []swarm.Option{
		swarm.WithConsensusConfig(cfg.ConsensusOptions()),
		swarm.WithDetectorConfig(cfg.DetectorOptions()),
		swarm.WithPipelineConfig(cfg.PipelineOptions()),
		swarm.WithHealthConfig(cfg.HealthOptions()),
		swarm.WithSuspicionFloor(cfg.Consensus.SuspicionFloor),
	}

	if cfg.Logging.Debug {
		logger := swarm.NewDebugLoggerForDir(cwd)
		defer logger.Close()
		opts = append(opts, swarm.WithLogger(logger))
	}

	var store *state.Store
	if !runNoAudit {
		db, err := state.OpenProject(cwd)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate audit db: %w", err)
		}
		store = state.NewStore(db)
		opts = append(opts, swarm.WithRecorder(store))
	}

	watcher, err := swarm.NewSignalWatcher(cwd)
	if err != nil {
		return fmt.Errorf("signal watcher: %w", err)
	}
	defer watcher.Close()
	opts = append(opts, swarm.WithSignalWatcher(watcher))

	if runRatify {
		opts = append(opts, swarm.WithRatification(swarm.RatifyConfig{
			QuorumFraction: cfg.Consensus.QuorumFraction,
			Timeout:        cfg.Consensus.RoundTimeout,
			MinVoters:      2,
		}))
	}

	sim := rpc.NewSimulator(scenario.ScriptedAgents())
	s, err := swarm.New(swarm.RequiredConfig{Transport: sim, Status: sim}, opts...)
	if err != nil {
		return fmt.Errorf("build swarm: %w", err)
	}

	for _, a := range scenario.Agents {
		if err := s.RegisterAgent(models.Agent{ID: a.ID, Domain: a.Domain}); err != nil {
			return fmt.Errorf("register agent %s: %w", a.ID, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	go printEvents(s.Events())

	fmt.Printf("Running scenario with %d agents, %d tasks, %d proposals\n\n",
		len(scenario.Agents), len(scenario.Tasks), len(scenario.Proposals))

	// Proposals first: consensus outcomes often gate remediation work.
	for _, p := range scenario.Proposals {
		proposal := models.Proposal{
			Domain:         p.Domain,
			Payload:        p.Payload,
			QuorumFraction: pickFloat(runQuorum, p.Quorum, cfg.Consensus.QuorumFraction),
			Timeout:        pickDuration(runTimeout, p.Timeout, cfg.Consensus.RoundTimeout),
		}
		result, err := s.AchieveConsensus(ctx, proposal, nil)
		if err != nil {
			return fmt.Errorf("proposal %q: %w", p.Payload, err)
		}
		printConsensus(p.Payload, result)
	}

	taskIDs := make([]string, 0, len(scenario.Tasks))
	for _, t := range scenario.Tasks {
		id, err := s.SubmitTask(t.Domain, t.Target, models.ParsePriority(t.Priority))
		if err != nil {
			return fmt.Errorf("submit task for %s: %w", t.Target, err)
		}
		taskIDs = append(taskIDs, id)
	}

	if err := waitForTasks(ctx, s, taskIDs); err != nil {
		return err
	}

	printHealth(s.GetSwarmHealth())
	return nil
}

// pickFloat returns the first positive value.
func pickFloat(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// pickDuration returns the first positive value.
func pickDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// waitForTasks polls until every submitted task is terminal.
func waitForTasks(ctx context.Context, s *swarm.Swarm, taskIDs []string) error {
	pending := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = true
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for id := range pending {
			task, ok := s.GetTaskStatus(id)
			if !ok || !task.Status.Terminal() {
				continue
			}
			delete(pending, id)
			printTask(task)
		}
	}
	return nil
}

// printEvents streams swarm events to stderr as they arrive.
func printEvents(events <-chan swarm.Event) {
	for e := range events {
		switch e.Type {
		case swarm.EventAgentFlagged:
			fmt.Fprintf(os.Stderr, "%s agent %s flagged as byzantine (decision %s)\n",
				color.RedString("!"), e.AgentID, e.DecisionID)
		case swarm.EventAgentProvisioned:
			fmt.Fprintf(os.Stderr, "%s provisioned replacement worker %s (%s)\n",
				color.YellowString("+"), e.AgentID, e.Domain)
		case swarm.EventHealthDegraded:
			fmt.Fprintf(os.Stderr, "%s agent %s health degraded: %s\n",
				color.YellowString("~"), e.AgentID, e.Health)
		}
	}
}

func printConsensus(payload string, result models.ConsensusResult) {
	label := color.RedString("✗ %s", result.Status)
	if result.Status == models.StatusConsensus {
		label = color.GreenString("✓ consensus")
	}
	fmt.Printf("%s  %q\n", label, payload)
	fmt.Printf("    decision=%s confidence=%.2f votes=%d byzantine=%d\n",
		result.Decision, result.Confidence, len(result.Votes), len(result.ByzantineAgents))
}

func printTask(task models.PipelineTask) {
	if task.Status == models.TaskStatusCompleted {
		fmt.Printf("%s  %s (%s) after %d attempt(s)\n",
			color.GreenString("✓ completed"), task.Target, task.Domain, len(task.Attempts))
		return
	}
	fmt.Printf("%s  %s (%s): %s\n",
		color.RedString("✗ failed"), task.Target, task.Domain, task.Error)
}

func printHealth(snapshot swarm.HealthSnapshot) {
	fmt.Println("\nSwarm health:")
	for _, a := range snapshot.Agents {
		marker := color.GreenString("●")
		if a.Suspicious || a.Health != models.HealthHealthy {
			marker = color.RedString("●")
		}
		fmt.Printf("  %s %-24s %-12s health=%-10s trust=%.2f\n",
			marker, a.ID, a.Domain, a.Health, a.TrustScore)
	}
	fmt.Printf("\nConsensus rounds: %d (%d reached, %d byzantine failures, %d flagged voters)\n",
		snapshot.Consensus.Rounds, snapshot.Consensus.Reached,
		snapshot.Consensus.ByzantineFailures, snapshot.Consensus.FlaggedVoters)
}
