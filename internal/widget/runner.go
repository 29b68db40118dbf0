package widget

import (
	"log/slog"
	"sync"
	"time"
)

// runner calls tick on a fixed interval from a background goroutine.
// tick must not block: it is expected to hand the work off and return, so
// a slow request never delays the next tick.
type runner struct {
	name     string
	interval time.Duration
	tick     func()
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newRunner(name string, interval time.Duration, tick func(), logger *slog.Logger) *runner {
	return &runner{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

// Start begins ticking. The first tick fires after one interval.
// A non-positive interval disables the runner.
func (r *runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || r.interval <= 0 {
		return
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.loop(r.stopCh, r.doneCh)

	if r.logger != nil {
		r.logger.Debug("Timer started", "timer", r.name, "interval", r.interval)
	}
}

// Stop halts the runner and waits for its loop to exit. Work already handed
// off by tick is not waited for.
func (r *runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh

	if r.logger != nil {
		r.logger.Debug("Timer stopped", "timer", r.name)
	}
}

// IsRunning returns true if the runner is currently active.
func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			r.tick()
		}
	}
}
