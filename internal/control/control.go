// Package control lets a separate process pause and resume running agents.
//
// A pause request is a file <control_dir>/<agent slug>.pause. The running
// process watches the directory and pauses an agent while its file exists.
package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"skyherd/internal/config"
)

// PauseSuffix marks a pause request file.
const PauseSuffix = ".pause"

// Target receives pause and resume requests by agent name.
type Target interface {
	Pause(name string) error
	Resume(name string) error
}

// PausePath is the control file for an agent.
func PausePath(dir, agent string) string {
	return filepath.Join(dir, config.Slug(agent)+PauseSuffix)
}

// RequestPause writes the agent's pause file.
func RequestPause(dir, agent string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}
	stamp := time.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(PausePath(dir, agent), []byte(stamp), 0644); err != nil {
		return fmt.Errorf("failed to write pause file: %w", err)
	}
	return nil
}

// RequestResume removes the agent's pause file. A missing file is not an error.
func RequestResume(dir, agent string) error {
	if err := os.Remove(PausePath(dir, agent)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pause file: %w", err)
	}
	return nil
}

// PauseRequested reports whether the agent's pause file exists.
func PauseRequested(dir, agent string) bool {
	_, err := os.Stat(PausePath(dir, agent))
	return err == nil
}

// Watcher applies pause files to a Target.
type Watcher struct {
	mu      sync.Mutex
	dir     string
	agents  map[string]string // slug -> name
	target  Target
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	closed  bool
}

// NewWatcher watches dir for the named agents' pause files.
func NewWatcher(dir string, agents []string, target Target, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		dir:     dir,
		agents:  make(map[string]string, len(agents)),
		target:  target,
		watcher: fw,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, name := range agents {
		w.agents[config.Slug(name)] = name
	}
	return w, nil
}

// Start applies pause files already present, then watches for changes in
// the background until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	for slug := range w.agents {
		if _, err := os.Stat(filepath.Join(w.dir, slug+PauseSuffix)); err == nil {
			w.apply(slug)
		}
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	go w.run(ctx)
	w.logger.Info("watching control directory", zap.String("dir", w.dir))
	return nil
}

// Stop ends the watch, waits for the event loop to exit and releases the
// underlying watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning, wasClosed := w.running, w.closed
	w.running, w.closed = false, true
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if !wasClosed {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("error closing watcher", zap.Error(err))
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, PauseSuffix) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.apply(strings.TrimSuffix(base, PauseSuffix))
}

// apply pauses or resumes the agent to match whether its file exists.
func (w *Watcher) apply(slug string) {
	name, ok := w.agents[slug]
	if !ok {
		w.logger.Debug("ignoring control file for unknown agent", zap.String("slug", slug))
		return
	}
	_, statErr := os.Stat(filepath.Join(w.dir, slug+PauseSuffix))

	var err error
	if statErr == nil {
		err = w.target.Pause(name)
		w.logger.Info("pause requested via control file", zap.String("agent", name))
	} else {
		err = w.target.Resume(name)
		w.logger.Info("resume requested via control file", zap.String("agent", name))
	}
	if err != nil {
		w.logger.Warn("control request failed", zap.String("agent", name), zap.Error(err))
	}
}
