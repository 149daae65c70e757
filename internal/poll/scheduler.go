package poll

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CancelFunc stops a scheduled action. Calling it while the action is
// running lets the run finish; no further run is armed afterwards.
type CancelFunc func()

// Scheduler arms self-rescheduling actions with a guaranteed minimum idle
// gap: the next run is armed when the previous one completes, not on a fixed
// wall-clock tick, so slow network rounds never overlap.
type Scheduler struct {
	log *zap.Logger
}

func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Schedule invokes fn once after delay has elapsed and then re-arms the same
// delay measured from completion time. A panic inside fn is logged and does
// not stop the schedule; transient failures are the action's own business.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	t := &deltaTimer{log: s.log}
	t.arm(delay, fn)
	return t.cancel
}

type deltaTimer struct {
	log *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (t *deltaTimer) arm(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = time.AfterFunc(delay, func() {
		t.run(delay, fn)
	})
}

func (t *deltaTimer) run(delay time.Duration, fn func()) {
	defer t.arm(delay, fn)
	defer func() {
		if r := recover(); r != nil {
			schedulerPanics.Inc()
			t.log.Error("scheduled action panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (t *deltaTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
