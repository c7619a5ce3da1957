package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skyherd/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWorker struct {
	name     string
	startErr error

	mu      sync.Mutex
	cycleFn func(ctx context.Context, n int) error
	n       int
	done    atomic.Int64
}

func (w *fakeWorker) Name() string                { return w.name }
func (w *fakeWorker) Start(context.Context) error { return w.startErr }

func (w *fakeWorker) RunCycle(ctx context.Context) error {
	w.mu.Lock()
	w.n++
	n, fn := w.n, w.cycleFn
	w.mu.Unlock()
	defer w.done.Add(1)
	if fn != nil {
		return fn(ctx, n)
	}
	return nil
}

func fastTiming() config.Timing {
	return config.Timing{
		Cycle:        config.Range{Min: time.Millisecond, Max: 2 * time.Millisecond},
		ErrorBackoff: 5 * time.Millisecond,
		PausePoll:    2 * time.Millisecond,
	}
}

func runAsync(t *testing.T, r *Runner, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	return errCh
}

func waitDone(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "error_backoff", StateErrorBackoff.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRunnerStopsCooperatively(t *testing.T) {
	w := &fakeWorker{name: "a"}
	r := NewRunner(w, fastTiming())
	errCh := runAsync(t, r, context.Background())

	require.Eventually(t, func() bool { return w.done.Load() >= 3 }, 5*time.Second, time.Millisecond)
	r.Stop()
	r.Stop()
	require.NoError(t, waitDone(t, errCh))
	assert.Equal(t, StateStopped, r.State())
	assert.Zero(t, r.Failures())
}

func TestRunnerStartupError(t *testing.T) {
	w := &fakeWorker{name: "a", startErr: errors.New("bad credentials")}
	r := NewRunner(w, fastTiming())

	err := r.Run(context.Background())
	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "a", se.Agent)
	assert.Zero(t, w.done.Load())
	assert.Equal(t, StateStopped, r.State())
}

func TestRunnerBacksOffAfterCycleError(t *testing.T) {
	timing := fastTiming()
	timing.ErrorBackoff = time.Hour
	w := &fakeWorker{name: "a", cycleFn: func(context.Context, int) error { return errors.New("search down") }}
	r := NewRunner(w, timing)
	errCh := runAsync(t, r, context.Background())

	require.Eventually(t, func() bool { return r.State() == StateErrorBackoff }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), r.Failures())

	r.Stop()
	require.NoError(t, waitDone(t, errCh), "stop interrupts the backoff sleep")
	assert.Equal(t, int64(1), r.Cycles())
}

func TestRunnerRecoversPanic(t *testing.T) {
	w := &fakeWorker{name: "a", cycleFn: func(_ context.Context, n int) error {
		if n == 1 {
			panic("nil map")
		}
		return nil
	}}
	r := NewRunner(w, fastTiming())
	errCh := runAsync(t, r, context.Background())

	require.Eventually(t, func() bool { return w.done.Load() >= 3 }, 5*time.Second, time.Millisecond)
	r.Stop()
	require.NoError(t, waitDone(t, errCh))
	assert.Equal(t, int64(1), r.Failures())
}

func TestCycleErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	w := &fakeWorker{name: "a", cycleFn: func(context.Context, int) error { return cause }}
	r := NewRunner(w, fastTiming())

	err := r.cycle(context.Background())
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, cause)
	assert.False(t, ce.Panicked)
	assert.Equal(t, int64(1), ce.Cycle)

	w.cycleFn = func(context.Context, int) error { panic("bad") }
	err = r.cycle(context.Background())
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Panicked)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunnerPauseResume(t *testing.T) {
	w := &fakeWorker{name: "a"}
	r := NewRunner(w, fastTiming())
	r.Pause()
	errCh := runAsync(t, r, context.Background())

	require.Eventually(t, func() bool { return r.State() == StatePaused }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, w.done.Load(), "paused runners perform no cycles")

	r.Resume()
	require.Eventually(t, func() bool { return w.done.Load() >= 2 }, 5*time.Second, time.Millisecond)

	r.Pause()
	require.Eventually(t, func() bool { return r.State() == StatePaused }, 5*time.Second, time.Millisecond)
	r.Stop()
	require.NoError(t, waitDone(t, errCh))
}

func TestStopLetsInFlightCycleFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	w := &fakeWorker{name: "a", cycleFn: func(ctx context.Context, n int) error {
		if n == 1 {
			close(entered)
			<-release
			finished.Store(true)
		}
		return nil
	}}
	r := NewRunner(w, fastTiming())
	errCh := runAsync(t, r, context.Background())

	<-entered
	r.Stop()
	select {
	case <-errCh:
		t.Fatal("runner returned before the cycle completed")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, waitDone(t, errCh))
	assert.True(t, finished.Load())
	assert.Equal(t, int64(1), r.Cycles())
}

func TestContextCancelIsHardStop(t *testing.T) {
	timing := fastTiming()
	timing.Cycle = config.Range{Min: time.Hour, Max: time.Hour}
	w := &fakeWorker{name: "a"}
	r := NewRunner(w, timing)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(t, r, ctx)

	require.Eventually(t, func() bool { return w.done.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, errCh))
	assert.Equal(t, StateStopped, r.State())
}

func TestSupervisorIsolatesStartupFailures(t *testing.T) {
	good := &fakeWorker{name: "good"}
	bad := &fakeWorker{name: "bad", startErr: errors.New("login failed")}

	s := NewSupervisor(nil)
	require.NoError(t, s.Add(NewRunner(good, fastTiming())))
	require.NoError(t, s.Add(NewRunner(bad, fastTiming())))
	require.Error(t, s.Add(NewRunner(&fakeWorker{name: "good"}, fastTiming())))
	assert.Equal(t, []string{"good", "bad"}, s.Names())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return good.done.Load() >= 2 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.States()["bad"] == StateStopped }, 5*time.Second, time.Millisecond)

	require.NoError(t, s.Pause("good"))
	require.Eventually(t, func() bool { return s.States()["good"] == StatePaused }, 5*time.Second, time.Millisecond)
	require.NoError(t, s.Resume("good"))
	assert.ErrorIs(t, s.Pause("nobody"), ErrUnknownAgent)

	s.StopAll()
	err := waitDone(t, errCh)
	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.Agent)
	assert.Equal(t, StateStopped, s.States()["good"])
}
