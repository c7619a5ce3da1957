package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skyherd/internal/config"
	"skyherd/internal/control"
	"skyherd/internal/logging"
)

func pauseAgent(cmd *cobra.Command, args []string) error {
	name, err := resolveAgent(args[0])
	if err != nil {
		return err
	}
	if err := control.RequestPause(cfg.ControlDir, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s will pause after its current cycle\n", name)
	return nil
}

func resumeAgent(cmd *cobra.Command, args []string) error {
	name, err := resolveAgent(args[0])
	if err != nil {
		return err
	}
	if err := control.RequestResume(cfg.ControlDir, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s resumed\n", name)
	return nil
}

// resolveAgent maps a name or slug to the configured agent name.
func resolveAgent(arg string) (string, error) {
	agents, err := config.LoadAgents(cfg.ConfigDir, logging.CategoryBoot.Named(logs.Logger()))
	if err != nil {
		return "", err
	}
	if match := filterAgents(agents, arg); len(match) == 1 {
		return match[0].Name, nil
	}
	return "", fmt.Errorf("no agent named %q in %s", arg, cfg.ConfigDir)
}
