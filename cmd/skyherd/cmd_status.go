package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"skyherd/internal/analyzer"
	"skyherd/internal/budget"
	"skyherd/internal/config"
	"skyherd/internal/control"
	"skyherd/internal/logging"
	"skyherd/internal/state"
	"skyherd/internal/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
)

// agentStatus is everything the status page shows for one agent.
type agentStatus struct {
	Name      string
	Paused    bool
	LastReset time.Time
	Usage     []budget.Usage
	Original  types.Limits
	Scores    map[types.ActionKind]float64
	Growth    *analyzer.GrowthReport
}

func showStatus(cmd *cobra.Command, args []string) error {
	agents, err := config.LoadAgents(cfg.ConfigDir, logging.CategoryBoot.Named(logs.Logger()))
	if err != nil {
		return err
	}
	if len(args) == 1 {
		agents = filterAgents(agents, args[0])
		if len(agents) == 0 {
			return fmt.Errorf("no agent named %q in %s", args[0], cfg.ConfigDir)
		}
	}

	backend, err := state.OpenBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer backend.Close()

	out := cmd.OutOrStdout()
	styled := isTerminal(out)
	for i, ac := range agents {
		st, err := collectStatus(backend, ac)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", ac.Name, err)
			continue
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, renderStatus(st, styled))
	}
	return nil
}

func filterAgents(agents []*config.AgentConfig, name string) []*config.AgentConfig {
	want := config.Slug(name)
	for _, ac := range agents {
		if ac.Slug() == want {
			return []*config.AgentConfig{ac}
		}
	}
	return nil
}

// collectStatus reads an agent's persisted state without writing anything.
func collectStatus(backend state.Backend, ac *config.AgentConfig) (*agentStatus, error) {
	original, err := ac.DailyLimits()
	if err != nil {
		return nil, err
	}
	store := state.NewStore(backend, ac.Slug(), state.ReadOnly())

	b := budget.New(store, original, nil)
	// A stale counter date shows as today's zeroed counters.
	b.ResetIfNewDay()

	an := analyzer.New(store, nil, ac.Credentials.Username, 0, nil)

	return &agentStatus{
		Name:      ac.Name,
		Paused:    control.PauseRequested(cfg.ControlDir, ac.Name),
		LastReset: b.LastReset(),
		Usage:     b.Usage(),
		Original:  b.Original(),
		Scores:    an.Scores(original.Kinds()),
		Growth:    an.GrowthReport(),
	}, nil
}

func renderStatus(st *agentStatus, styled bool) string {
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var sb strings.Builder
	mode := style(okStyle, "active")
	if st.Paused {
		mode = style(warnStyle, "paused")
	}
	sb.WriteString(style(titleStyle, st.Name) + "  " + mode + "\n")
	if !st.LastReset.IsZero() {
		sb.WriteString(style(mutedStyle, "counters since "+st.LastReset.Local().Format("2006-01-02")) + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString(style(headerStyle, "Budget") + "\n")
	sb.WriteString(fmt.Sprintf("  %-8s %7s %7s %9s %7s\n", "action", "today", "limit", "default", "score"))
	for _, u := range st.Usage {
		used := fmt.Sprintf("%7d", u.Count)
		switch {
		case u.Limit > 0 && u.Count >= u.Limit:
			used = style(errStyle, used)
		case u.Limit > 0 && u.Count*10 >= u.Limit*8:
			used = style(warnStyle, used)
		}
		sb.WriteString(fmt.Sprintf("  %-8s %s %7d %9d %7.2f\n",
			u.Kind, used, u.Limit, st.Original[u.Kind], st.Scores[u.Kind]))
	}
	sb.WriteString("\n")

	sb.WriteString(style(headerStyle, "Growth") + "\n")
	g := st.Growth
	if g == nil {
		sb.WriteString("  " + style(mutedStyle, "not enough follower snapshots yet") + "\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("  followers %d  following %d  posts %d\n", g.Followers, g.Following, g.Posts))
	total := fmt.Sprintf("%+d", g.TotalGrowth)
	if g.TotalGrowth > 0 {
		total = style(okStyle, total)
	} else if g.TotalGrowth < 0 {
		total = style(errStyle, total)
	}
	sb.WriteString(fmt.Sprintf("  total %s over %s\n", total, g.Span().Round(time.Minute)))
	if g.DayGrowth != nil {
		sb.WriteString(fmt.Sprintf("  past 24h %+d\n", *g.DayGrowth))
	}
	sb.WriteString(fmt.Sprintf("  rate %.2f/h  %.2f/day  %.2f/week\n", g.HourlyRate, g.DailyRate, g.WeeklyRate))
	sb.WriteString(fmt.Sprintf("  follower ratio %.2f  posts per follower %.2f\n", g.FollowerRatio, g.PostsPerFollower))
	return sb.String()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
