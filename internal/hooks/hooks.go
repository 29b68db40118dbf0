// Package hooks runs user configured notification commands and coordinates
// graceful shutdown.
//
// Hooks are shell commands that run when the widget needs attention, such
// as when the unread indicator appears or a ticket is resolved.
package hooks

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/inercia/helpdesk/internal/config"
	"github.com/inercia/helpdesk/internal/logging"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/widget"
)

// Hook events.
const (
	EventUnread   = "unread"
	EventResolved = "resolved"
)

// Expand replaces ${TICKET} and ${EVENT} in command.
func Expand(command, event string, t session.Ticket) string {
	id := t.HumanID
	if id == "" {
		id = t.ID
	}
	return strings.NewReplacer("${TICKET}", id, "${EVENT}", event).Replace(command)
}

// Process manages a running hook command and its lifecycle.
// It is safe for concurrent use.
type Process struct {
	name string
	cmd  *exec.Cmd
	mu   sync.Mutex
	done bool
	exit chan struct{}
}

// Start runs hook asynchronously through "sh -c". The ticket and event are
// also exported as HELPDESK_TICKET_ID, HELPDESK_TICKET and HELPDESK_EVENT.
// Returns nil if the hook is empty or fails to start.
func Start(hook config.Hook, event string, t session.Ticket) *Process {
	if hook.Command == "" {
		return nil
	}
	logger := logging.Hook()

	name := hook.Name
	if name == "" {
		name = event
	}
	command := Expand(hook.Command, event, t)
	logger.Info("Starting hook", "name", name, "command", command, "ticket_id", t.ID)

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"HELPDESK_EVENT="+event,
		"HELPDESK_TICKET_ID="+t.ID,
		"HELPDESK_TICKET="+Expand("${TICKET}", event, t),
	)
	// Own process group so Stop reaches every child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start hook", "name", name, "error", err)
		return nil
	}

	p := &Process{name: name, cmd: cmd, exit: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.done = true
		p.mu.Unlock()
		close(p.exit)

		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		switch {
		case err == nil:
			logger.Debug("Hook completed", "name", name)
		case exitCode == -1:
			logger.Debug("Hook killed by signal", "name", name)
		default:
			logger.Warn("Hook exited with error", "name", name, "exit_code", exitCode, "error", err)
		}
	}()
	return p
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.exit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the hook process group if it's still running.
// It is safe to call Stop on a nil Process.
func (p *Process) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || p.cmd.Process == nil {
		return
	}

	if pgid, err := syscall.Getpgid(p.cmd.Process.Pid); err == nil {
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	} else {
		_ = p.cmd.Process.Kill()
	}
	logging.Hook().Info("Stopped hook", "name", p.name)
	p.done = true
}

// Notifier starts the configured hooks and remembers them so they can be
// stopped on shutdown.
type Notifier struct {
	cfg config.HooksConfig

	mu      sync.Mutex
	running []*Process
	closed  bool
}

// NewNotifier creates a notifier for cfg.
func NewNotifier(cfg config.HooksConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

// Unread runs the unread hook for t.
func (n *Notifier) Unread(t session.Ticket) *Process {
	return n.start(n.cfg.Unread, EventUnread, t)
}

// Resolved runs the resolved hook for t.
func (n *Notifier) Resolved(t session.Ticket) *Process {
	return n.start(n.cfg.Resolved, EventResolved, t)
}

func (n *Notifier) start(hook config.Hook, event string, t session.Ticket) *Process {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	p := Start(hook, event, t)
	if p != nil {
		kept := n.running[:0]
		for _, r := range n.running {
			r.mu.Lock()
			done := r.done
			r.mu.Unlock()
			if !done {
				kept = append(kept, r)
			}
		}
		n.running = append(kept, p)
	}
	return p
}

// Close stops every hook still running. Later notifications are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	running := n.running
	n.running = nil
	n.mu.Unlock()

	for _, p := range running {
		p.Stop()
	}
}

// WrapView returns a view that forwards everything to v and runs the
// notifier's hooks when the badge appears or a ticket is resolved.
func WrapView(v widget.View, n *Notifier) widget.View {
	return &notifyingView{View: v, n: n}
}

type notifyingView struct {
	widget.View
	n *Notifier

	mu     sync.Mutex
	ticket session.Ticket
}

func (v *notifyingView) ShowTicketInfo(t session.Ticket) {
	v.mu.Lock()
	v.ticket = t
	v.mu.Unlock()
	v.View.ShowTicketInfo(t)
}

func (v *notifyingView) ShowBadge() {
	v.View.ShowBadge()
	v.mu.Lock()
	t := v.ticket
	v.mu.Unlock()
	v.n.Unread(t)
}

func (v *notifyingView) ShowClosingNotice(t session.Ticket) {
	v.View.ShowClosingNotice(t)
	v.n.Resolved(t)
}
