package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagglenet/waggle/internal/state"
)

var (
	statusDomain string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded swarm activity",
	Long: `Display recorded consensus decisions and pipeline tasks.

Reads the project audit database written by 'waggle run'. Shows:
  - Recent consensus decisions with status and confidence
  - Recent tasks with outcome, retries, and worker attempts`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDomain, "domain", "", "Filter tasks by domain")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum rows per section")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No recorded activity. Run 'waggle run <scenario>' first.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := state.NewStore(db)

	decisions, err := store.ListDecisions(statusLimit)
	if err != nil {
		return err
	}
	displayDecisions(decisions)

	tasks, err := store.ListTasks(statusDomain, statusLimit)
	if err != nil {
		return err
	}
	displayTasks(tasks)
	return nil
}

func displayDecisions(decisions []state.DecisionRecord) {
	fmt.Println("Recent decisions:")
	if len(decisions) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, d := range decisions {
		marker := color.RedString("✗")
		if d.Status == "consensus" {
			marker = color.GreenString("✓")
		}
		fmt.Printf("  %s %-10s %-20s confidence=%.2f votes=%d %s\n",
			marker, d.ID, d.Status, d.Confidence, d.VoteCount, formatAge(d.CompletedAt))
		if len(d.ByzantineAgents) > 0 {
			fmt.Printf("      byzantine: %s\n", strings.Join(d.ByzantineAgents, ", "))
		}
	}
}

func displayTasks(tasks []state.TaskRecord) {
	fmt.Println("\nRecent tasks:")
	if len(tasks) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, t := range tasks {
		marker := color.RedString("✗")
		if t.Status == "completed" {
			marker = color.GreenString("✓")
		}
		fmt.Printf("  %s %-10s %-30s %-10s %s retries=%d %s\n",
			marker, t.ID, t.Target, t.Domain, t.Priority, t.RetryCount, formatAge(t.SubmittedAt))
		if t.Error != "" {
			fmt.Printf("      error: %s\n", t.Error)
		}
	}
}

// formatAge renders a timestamp as a compact relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
