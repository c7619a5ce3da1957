// Package logging builds skyherd's zap loggers.
//
// One process logger writes to the console (colored when attached to a
// terminal) and optionally to a JSON file. Every agent derives a child logger
// carrying its name, which additionally tees into a daily per-agent file under
// the logs directory: <logs_dir>/<agent>_YYYYMMDD.log.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skyherd/internal/config"
)

// Category names a subsystem; it becomes the zap logger name.
type Category string

const (
	CategoryBoot      Category = "boot"      // process start, config loading
	CategoryScheduler Category = "scheduler" // control loop and supervision
	CategoryBudget    Category = "budget"    // quota gate and counters
	CategoryAnalyzer  Category = "analyzer"  // follower tracking, effectiveness
	CategoryGuard     Category = "guard"     // dedup and posting cadence
	CategoryStore     Category = "store"     // state persistence
	CategoryDiscovery Category = "discovery" // candidate search
	CategoryContent   Category = "content"   // text generation
	CategoryNetwork   Category = "network"   // social network calls
	CategoryControl   Category = "control"   // pause/resume control files
	CategoryAgent     Category = "agent"     // per-cycle action flow
)

// Named returns l scoped to the category.
func (c Category) Named(l *zap.Logger) *zap.Logger {
	return l.Named(string(c))
}

// Factory owns the process logger and hands out per-agent loggers.
type Factory struct {
	base       *zap.Logger
	level      zap.AtomicLevel
	logsDir    string
	agentFiles bool
	closers    []func() error
}

// New builds the process logger from cfg. verbose forces debug level.
func New(cfg config.LoggingConfig, logsDir string, verbose bool) (*Factory, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	cores := []zapcore.Core{consoleCore(cfg.Format, level)}
	f := &Factory{level: level, logsDir: logsDir, agentFiles: cfg.AgentFilesEnabled()}

	if cfg.File != "" {
		fc, closer, err := fileCore(cfg.File, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, fc)
		f.closers = append(f.closers, closer)
	}

	f.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return f, nil
}

// NewNop returns a factory that discards everything. Intended for tests.
func NewNop() *Factory {
	return &Factory{base: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Logger returns the process logger.
func (f *Factory) Logger() *zap.Logger { return f.base }

// ForAgent returns a logger tagged with the agent name. When per-agent files
// are enabled the logger also writes to <logs_dir>/<slug>_YYYYMMDD.log.
func (f *Factory) ForAgent(name string) (*zap.Logger, error) {
	l := f.base.With(zap.String("agent", name))
	if !f.agentFiles || f.logsDir == "" {
		return l, nil
	}

	path := AgentLogPath(f.logsDir, name, time.Now())
	fc, closer, err := fileCore(path, f.level)
	if err != nil {
		return l, err
	}
	f.closers = append(f.closers, closer)
	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fc)
	})), nil
}

// Close flushes the loggers and closes every file opened by the factory.
func (f *Factory) Close() error {
	_ = f.base.Sync()
	var firstErr error
	for _, c := range f.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

// AgentLogPath is the daily log file for an agent.
func AgentLogPath(logsDir, name string, day time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", config.Slug(name), day.Format("20060102")))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func consoleCore(format string, level zapcore.LevelEnabler) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
}

func fileCore(path string, level zapcore.LevelEnabler) (zapcore.Core, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level)
	return core, file.Close, nil
}
