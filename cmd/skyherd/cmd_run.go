package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skyherd/internal/agent"
	"skyherd/internal/config"
	"skyherd/internal/content"
	"skyherd/internal/control"
	"skyherd/internal/logging"
	"skyherd/internal/network/bluesky"
	"skyherd/internal/scheduler"
	"skyherd/internal/state"
)

// runAgents builds every configured agent and supervises them until the
// process is told to stop.
func runAgents(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateLLM(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	base := logs.Logger()
	boot := logging.CategoryBoot.Named(base)

	agents, err := config.LoadAgents(cfg.ConfigDir, boot)
	if err != nil {
		return err
	}

	backend, err := state.OpenBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer backend.Close()

	gen, err := content.NewGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create content generator: %w", err)
	}

	sup, err := buildSupervisor(agents, backend, gen, boot)
	if err != nil {
		return err
	}

	watcher, err := control.NewWatcher(cfg.ControlDir, sup.Names(), sup, logging.CategoryControl.Named(base))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		boot.Warn("pause/resume control files disabled", zap.Error(err))
	}
	defer watcher.Stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		boot.Info("shutdown requested, finishing current cycles (signal again to force)")
		sup.StopAll()
		select {
		case <-sigCh:
			boot.Warn("forced shutdown")
			cancel()
		case <-ctx.Done():
		}
	}()

	boot.Info("skyherd starting", zap.String("version", version), zap.Strings("agents", sup.Names()))
	err = sup.Run(ctx)
	if err != nil {
		var se *scheduler.StartupError
		if errors.As(err, &se) && len(sup.Names()) > countStartupErrors(err) {
			// Some agents ran; startup failures were already logged.
			boot.Warn("some agents failed to start", zap.Error(err))
			return nil
		}
		return err
	}
	boot.Info("skyherd stopped")
	return nil
}

func buildSupervisor(agents []*config.AgentConfig, backend state.Backend, gen content.Generator, boot *zap.Logger) (*scheduler.Supervisor, error) {
	timing := cfg.Scheduler.Timing()
	sup := scheduler.NewSupervisor(logging.CategoryScheduler.Named(logs.Logger()))

	for _, ac := range agents {
		if err := ac.Validate(); err != nil {
			boot.Error("skipping agent", zap.String("file", ac.Path), zap.Error(err))
			continue
		}
		alog, err := logs.ForAgent(ac.Name)
		if err != nil {
			boot.Warn("per-agent log file unavailable", zap.String("agent", ac.Name), zap.Error(err))
		}

		client := bluesky.New(bluesky.Config{
			ServiceURL:        cfg.Network.ServiceURL,
			Identifier:        ac.Credentials.Username,
			Password:          ac.Credentials.AppPassword,
			Timeout:           cfg.GetNetworkTimeout(),
			RequestsPerSecond: cfg.Network.RequestsPerSecond,
			Burst:             cfg.Network.Burst,
		}, logging.CategoryNetwork.Named(alog))

		store := state.NewStore(backend, ac.Slug(), state.WithLogger(logging.CategoryStore.Named(alog)))

		a, err := agent.New(ac, agent.Deps{
			Client:    client,
			Generator: gen,
			Store:     store,
			Timing:    timing,
			Discovery: cfg.Scheduler.Discovery,
			Logger:    alog,
		})
		if err != nil {
			boot.Error("skipping agent", zap.String("agent", ac.Name), zap.Error(err))
			continue
		}

		runner := scheduler.NewRunner(a, timing, scheduler.WithLogger(logging.CategoryScheduler.Named(alog)))
		if err := sup.Add(runner); err != nil {
			return nil, err
		}
	}

	if len(sup.Names()) == 0 {
		return nil, fmt.Errorf("no runnable agents in %s", cfg.ConfigDir)
	}
	return sup, nil
}

func countStartupErrors(err error) int {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return 1
	}
	n := 0
	for _, e := range joined.Unwrap() {
		var se *scheduler.StartupError
		if errors.As(e, &se) {
			n++
		}
	}
	return n
}
