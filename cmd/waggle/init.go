package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagglenet/waggle/internal/rpc"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a waggle project",
	Long: `Initialize a directory for use with waggle.

This command sets up everything needed to run waggle:
  - Creates the .waggle directory structure (logs, signals, audit db)
  - Creates a .waggle.yaml configuration template
  - Creates a starter scenario file for simulated runs

The directory argument is optional and defaults to the current directory.

Examples:
  waggle init              # Initialize current directory
  waggle init ./myproject  # Initialize specific directory
  waggle init --force      # Overwrite existing template files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing template files")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	for _, sub := range []string{"logs", "signals"} {
		if err := os.MkdirAll(filepath.Join(dir, ".waggle", sub), 0755); err != nil {
			return fmt.Errorf("create .waggle/%s: %w", sub, err)
		}
	}
	printStatus("✓", "Created .waggle directory structure", color.FgGreen)

	wrote, err := writeTemplate(filepath.Join(dir, ".waggle.yaml"), configTemplate)
	if err != nil {
		return err
	}
	if wrote {
		printStatus("✓", "Created .waggle.yaml template", color.FgGreen)
	} else {
		printStatus("⚠", ".waggle.yaml exists, skipped (use --force to overwrite)", color.FgYellow)
	}

	wrote, err = writeTemplate(filepath.Join(dir, "scenario.yaml"), rpc.DefaultScenario())
	if err != nil {
		return err
	}
	if wrote {
		printStatus("✓", "Created starter scenario.yaml", color.FgGreen)
	} else {
		printStatus("⚠", "scenario.yaml exists, skipped (use --force to overwrite)", color.FgYellow)
	}

	fmt.Printf("\n%s waggle initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  waggle run scenario.yaml   # Run the starter scenario")
	fmt.Println("  waggle status              # Inspect recorded results")
	return nil
}

// writeTemplate writes content unless the file exists and --force is unset.
func writeTemplate(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil && !initForce {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}

const configTemplate = `# waggle project configuration
# Values here override ~/.config/waggle/config.yaml.

consensus:
  quorum_fraction: 0.6
  round_timeout: 30s
  prescreen_trust_floor: 0.5

pipeline:
  max_concurrent: 4
  max_byzantine_retries: 2
  task_timeout: 1m

detector:
  suspicion_threshold: 0.6
  flip_flop_window: 4

logging:
  debug: false
`
