package logging

import (
	"time"

	"go.uber.org/zap"
)

// Timer logs how long an operation took.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer starts timing op.
func StartTimer(l *zap.Logger, op string) *Timer {
	return &Timer{logger: l, op: op, start: time.Now()}
}

// Stop logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithInfo logs the duration at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Info(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold warns if the operation exceeded threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" was slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
