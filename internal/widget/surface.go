package widget

import (
	"context"
	"errors"

	"github.com/inercia/helpdesk/internal/client"
)

// Open transitions the surface from closed to open: the indicator is
// cleared, the history is reloaded, the bot sequence starts on the first
// open for the ticket and new messages are checked right away. Opening an
// already open surface does nothing.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.sess.SurfaceOpen {
		c.mu.Unlock()
		return nil
	}
	c.sess.SurfaceOpen = true
	c.view.SetSurfaceOpen(true)
	c.hideIndicatorLocked()

	if !c.sess.HasTicket() {
		if !c.locked {
			c.view.ShowEmptyState()
		}
		c.mu.Unlock()
		return nil
	}
	ticketID := c.sess.TicketID()
	gen := c.generation
	c.mu.Unlock()

	c.log("surface", ticketID).Debug("surface opened")
	c.enterSurface(ctx, ticketID, gen)
	return nil
}

// Close transitions the surface to closed and records the last rendered
// message as seen. Timers keep running.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sess.SurfaceOpen {
		return
	}
	c.sess.SurfaceOpen = false
	c.view.SetSurfaceOpen(false)
	c.setMarkerLocked(c.lastRenderedIDLocked())
	c.badge.reconcile(&c.sess)

	c.log("surface", c.sess.TicketID()).Debug("surface closed",
		"last_seen_id", c.sess.LastSeenMessageID)
}

// enterSurface loads the history, starts the bot sequence when this is the
// first open for the ticket and polls for new messages immediately.
func (c *Controller) enterSurface(ctx context.Context, ticketID string, gen uint64) {
	existing, err := c.loadHistory(ctx, ticketID, gen, false)
	if err != nil {
		return
	}

	c.mu.Lock()
	if gen == c.generation && !c.locked && c.sess.HasTicket() && !c.botStarted[ticketID] && !c.botRunning {
		c.startBotLocked(ticketID, gen, existing)
	}
	c.mu.Unlock()

	if err := c.PollNewMessages(ctx); err != nil && !errors.Is(err, ErrNoActiveTicket) {
		c.logger.Debug("immediate message check failed", "error", err)
	}
}

// loadHistory fetches the full transcript of ticketID and replaces the
// rendered one. It returns the number of bot-authored messages.
//
// A not-found answer clears the session. A non-success answer clears it only
// while restoring; otherwise the next tick retries. A resolved status locks
// the conversation. A transport failure leaves the state untouched.
func (c *Controller) loadHistory(ctx context.Context, ticketID string, gen uint64, restoring bool) (int, error) {
	log := c.log("surface", ticketID)

	h, err := c.api.LoadHistory(ctx, ticketID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		log.Debug("discarding stale history")
		return 0, errStale
	}

	if err != nil {
		var apiErr *client.APIError
		if errors.Is(err, client.ErrTicketNotFound) || (restoring && errors.As(err, &apiErr)) {
			c.clearLocked("history: " + err.Error())
			c.noticeLocked("This ticket is no longer available.")
			return 0, err
		}
		log.Warn("failed to load history", "error", err)
		return 0, err
	}

	c.transcript = append(c.transcript[:0], h.Messages...)
	c.view.ShowTranscript(h.Messages)
	c.view.ScrollToEnd()

	if c.sess.ActiveTicket != nil && h.Status != "" && c.sess.ActiveTicket.Status != h.Status {
		c.sess.ActiveTicket.Status = h.Status
		c.view.ShowTicketInfo(*c.sess.ActiveTicket)
	}

	if client.IsResolved(h.Status) {
		c.terminateLocked("history")
		return h.BotCount(), nil
	}

	if c.sess.LastSeenMessageID == "" {
		c.setMarkerLocked(c.lastRenderedIDLocked())
	}

	log.Debug("history loaded", "messages", len(h.Messages), "bot_messages", h.BotCount())
	return h.BotCount(), nil
}

var errStale = errors.New("stale response")
