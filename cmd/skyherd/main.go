// Command skyherd runs a herd of Bluesky engagement agents.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skyherd/internal/config"
	"skyherd/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	verbose    bool

	cfg  *config.Config
	logs *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "skyherd",
	Short: "skyherd - budget-aware Bluesky engagement agents",
	Long: `skyherd runs one engagement agent per file in the config directory.

Each agent searches for posts and accounts matching its interests, likes,
reposts, replies, posts and follows within daily limits, and shifts its
budget toward the actions that grow its followers.

Run without a subcommand to start every agent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logs, err = logging.New(cfg.Logging, cfg.LogsDir, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
	RunE: runAgents,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every configured agent",
	Long: `Loads every agent in the config directory and runs them until interrupted.

The first SIGINT/SIGTERM lets each agent finish its current cycle and stop.
A second signal stops immediately.`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

var statusCmd = &cobra.Command{
	Use:   "status [agent]",
	Short: "Show limits, counters and growth for each agent",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <agent>",
	Short: "Pause a running agent",
	Long: `Writes the agent's control file. A running skyherd pauses the agent
after its current cycle; it performs no actions until resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: pauseAgent,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <agent>",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeAgent,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "skyherd %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "skyherd.yaml", "Process config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, statusCmd, pauseCmd, resumeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
