package hooks

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/inercia/helpdesk/internal/logging"
)

// ShutdownFunc releases one resource. reason names what ended the session,
// e.g. "signal:interrupt" or "command finished".
type ShutdownFunc func(reason string)

// ShutdownManager tears a helpdesk session down once, whether the command
// returns or the process is interrupted. Running hooks are stopped first,
// then the cleanups, then the UI loop is released.
type ShutdownManager struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []ShutdownFunc
	notifier *Notifier
	leaveUI  func()
	signals  chan os.Signal
}

func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{done: make(chan struct{})}
}

// SetNotifier registers the notifier whose hooks are killed on shutdown.
func (sm *ShutdownManager) SetNotifier(n *Notifier) {
	sm.mu.Lock()
	sm.notifier = n
	sm.mu.Unlock()
}

// SetTerminateUI registers fn to unblock the chat or watch loop. It runs last.
func (sm *ShutdownManager) SetTerminateUI(fn func()) {
	sm.mu.Lock()
	sm.leaveUI = fn
	sm.mu.Unlock()
}

// AddCleanup appends fn; cleanups run in registration order.
func (sm *ShutdownManager) AddCleanup(fn ShutdownFunc) {
	sm.mu.Lock()
	sm.cleanups = append(sm.cleanups, fn)
	sm.mu.Unlock()
}

// Start turns SIGINT and SIGTERM into a Shutdown.
func (sm *ShutdownManager) Start() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	sm.mu.Lock()
	sm.signals = ch
	sm.mu.Unlock()

	go func() {
		select {
		case sig := <-ch:
			logging.Shutdown().Info("interrupted", "signal", sig.String())
			sm.Shutdown("signal:" + sig.String())
		case <-sm.done:
		}
	}()
}

// Shutdown runs the teardown with reason. Only the first call does any work;
// every call returns after the teardown has finished.
func (sm *ShutdownManager) Shutdown(reason string) {
	sm.once.Do(func() { sm.teardown(reason) })
	<-sm.done
}

func (sm *ShutdownManager) teardown(reason string) {
	log := logging.Shutdown()
	log.Info("shutting down", "reason", reason)

	sm.mu.Lock()
	sm.reason = reason
	notifier := sm.notifier
	cleanups := append([]ShutdownFunc(nil), sm.cleanups...)
	leaveUI := sm.leaveUI
	if sm.signals != nil {
		signal.Stop(sm.signals)
	}
	sm.mu.Unlock()

	if notifier != nil {
		notifier.Close()
	}
	for i, fn := range cleanups {
		log.Debug("cleanup", "step", i+1, "of", len(cleanups))
		fn(reason)
	}
	if leaveUI != nil {
		leaveUI()
	}

	log.Debug("shutdown complete")
	close(sm.done)
}

// Done is closed once the teardown has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// Reason is what triggered the shutdown, "" while the session is live.
func (sm *ShutdownManager) Reason() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.reason
}
