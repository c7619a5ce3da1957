package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownAgent is returned for names the supervisor does not manage.
var ErrUnknownAgent = errors.New("unknown agent")

// Supervisor runs a set of runners concurrently.
type Supervisor struct {
	mu      sync.RWMutex
	runners map[string]*Runner
	order   []string
	logger  *zap.Logger
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{runners: make(map[string]*Runner), logger: logger}
}

// Add registers a runner. Names must be unique.
func (s *Supervisor) Add(r *Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.Name()
	if _, ok := s.runners[name]; ok {
		return fmt.Errorf("agent %q registered twice", name)
	}
	s.runners[name] = r
	s.order = append(s.order, name)
	return nil
}

// Runner returns the runner for name.
func (s *Supervisor) Runner(name string) (*Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return r, nil
}

// Names lists the managed agents in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// States snapshots every runner's state.
func (s *Supervisor) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.runners))
	for name, r := range s.runners {
		out[name] = r.State()
	}
	return out
}

// Pause pauses one agent.
func (s *Supervisor) Pause(name string) error {
	r, err := s.Runner(name)
	if err != nil {
		return err
	}
	r.Pause()
	return nil
}

// Resume resumes one agent.
func (s *Supervisor) Resume(name string) error {
	r, err := s.Runner(name)
	if err != nil {
		return err
	}
	r.Resume()
	return nil
}

// StopAll asks every runner to stop cooperatively.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		s.runners[name].Stop()
	}
}

// Run starts every runner and blocks until all have returned. A runner that
// fails to start is logged and does not affect the others; the startup
// errors are returned joined once everything has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.RLock()
	runners := make([]*Runner, 0, len(s.order))
	for _, name := range s.order {
		runners = append(runners, s.runners[name])
	}
	s.mu.RUnlock()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		startup []error
	)
	for _, r := range runners {
		g.Go(func() error {
			err := r.Run(ctx)
			var se *StartupError
			if errors.As(err, &se) {
				s.logger.Error("agent failed to start", zap.String("agent", se.Agent), zap.Error(se.Err))
				mu.Lock()
				startup = append(startup, err)
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	s.logger.Info("supervising agents", zap.Int("count", len(runners)))

	err := g.Wait()
	sort.Slice(startup, func(i, j int) bool { return startup[i].Error() < startup[j].Error() })
	s.logger.Info("all agents stopped", zap.Int("failed_to_start", len(startup)))
	return errors.Join(append(startup, err)...)
}
