package widget

import (
	"context"
	"errors"
	"time"

	"github.com/inercia/helpdesk/internal/client"
)

const (
	pushRetryMin = time.Second
	pushRetryMax = 30 * time.Second
)

// startTimersLocked starts the message and unread timers and, when enabled,
// the push channel for the active ticket.
// Must be called with c.mu held.
func (c *Controller) startTimersLocked() {
	if c.stopped || !c.sess.HasTicket() {
		return
	}
	c.messageTmr.Start()
	c.unreadTmr.Start()

	if c.push != nil && c.pushCancel == nil {
		ctx, cancel := context.WithCancel(c.ctx)
		c.pushCancel = cancel
		ticketID := c.sess.TicketID()
		c.goAsync(func() { c.watchPush(ctx, ticketID) })
	}
}

// stopTimersLocked stops both timers and the push channel.
// Must be called with c.mu held.
func (c *Controller) stopTimersLocked() {
	c.messageTmr.Stop()
	c.unreadTmr.Stop()
	if c.pushCancel != nil {
		c.pushCancel()
		c.pushCancel = nil
	}
}

// TimersRunning reports whether the poller timers are active.
func (c *Controller) TimersRunning() bool {
	return c.messageTmr.IsRunning() || c.unreadTmr.IsRunning()
}

// pollable reports whether a timer tick may issue a request.
func (c *Controller) pollable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped && !c.locked && c.sess.HasTicket()
}

func (c *Controller) tickNewMessages() {
	if !c.pollable() {
		return
	}
	if err := c.PollNewMessages(c.ctx); err != nil && !errors.Is(err, ErrNoActiveTicket) {
		c.logger.Debug("message check failed", "error", err)
	}
}

func (c *Controller) tickUnread() {
	if !c.pollable() {
		return
	}
	if err := c.PollUnread(c.ctx); err != nil {
		c.logger.Debug("unread check failed", "error", err)
	}
}

// PollUnread asks the server for the session-wide unread count. A positive
// count shows the indicator while the surface is closed.
func (c *Controller) PollUnread(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	resp, err := c.api.PollUnread(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.locked {
		c.log("poller", "").Debug("discarding stale unread response")
		return nil
	}
	if resp.UserRole != "" && resp.UserRole != c.sess.UserRole {
		c.sess.UserRole = resp.UserRole
		if err := c.store.SaveRole(resp.UserRole); err != nil {
			c.logger.Warn("failed to persist user role", "error", err)
		}
	}
	if resp.TotalUnread > 0 && !c.sess.SurfaceOpen && c.sess.HasTicket() {
		c.showIndicatorLocked()
	}
	return nil
}

// PollNewMessages asks the server for messages newer than the marker and
// applies the answer. Responses are applied in arrival order; a response for
// a ticket that is no longer active is discarded.
func (c *Controller) PollNewMessages(ctx context.Context) error {
	c.mu.Lock()
	if !c.sess.HasTicket() || c.locked {
		c.mu.Unlock()
		return ErrNoActiveTicket
	}
	ticketID := c.sess.TicketID()
	marker := c.sess.LastSeenMessageID
	gen := c.generation
	c.mu.Unlock()

	resp, err := c.api.PollNewMessages(ctx, ticketID, marker)
	if err != nil {
		if errors.Is(err, client.ErrTicketNotFound) {
			c.mu.Lock()
			if gen == c.generation {
				c.clearLocked("ticket not found")
			}
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.locked {
		c.log("poller", ticketID).Debug("discarding stale poll response")
		return nil
	}
	c.applyNewMessagesLocked(resp)
	return nil
}

// applyNewMessagesLocked implements the poll result rules.
// Must be called with c.mu held.
func (c *Controller) applyNewMessagesLocked(resp *client.NewMessages) {
	log := c.log("poller", c.sess.TicketID())

	if client.IsResolved(resp.TicketStatus) {
		c.terminateLocked("poll")
		return
	}

	marker := c.sess.LastSeenMessageID

	// The server re-reports the same tip when queried with an empty or
	// stale marker; only a differing tip counts as new.
	if resp.NewCount > 0 && resp.LatestSeenID != marker {
		if !c.sess.SurfaceOpen {
			log.Debug("new messages while closed",
				"new_count", resp.NewCount,
				"latest_seen_id", resp.LatestSeenID)
			c.setMarkerLocked(resp.LatestSeenID)
			c.showIndicatorLocked()
			return
		}

		appended := 0
		for _, m := range resp.NewMessages {
			if c.appendLocked(m) {
				appended++
			}
		}
		c.view.ScrollToEnd()
		last := c.lastRenderedIDLocked()
		if last == "" {
			last = resp.LatestSeenID
		}
		c.setMarkerLocked(last)
		log.Debug("rendered new messages", "appended", appended, "marker", c.sess.LastSeenMessageID)
		return
	}

	if resp.NewCount == 0 && resp.LatestSeenID != "" && resp.LatestSeenID != marker {
		log.Debug("adopting server tip", "latest_seen_id", resp.LatestSeenID)
		c.setMarkerLocked(resp.LatestSeenID)
	}
}

// watchPush keeps a push channel open for ticketID and turns nudges into
// immediate polls. Polling continues independently.
func (c *Controller) watchPush(ctx context.Context, ticketID string) {
	log := c.log("poller", ticketID)
	backoff := pushRetryMin

	for {
		err := c.push.Watch(ctx, ticketID, func(ev client.PushEvent) {
			switch ev.Type {
			case client.PushNewMessage, client.PushStatusChanged:
				if err := c.PollNewMessages(ctx); err != nil && !errors.Is(err, ErrNoActiveTicket) {
					log.Debug("push-triggered poll failed", "error", err)
				}
			}
		})
		if ctx.Err() != nil {
			return
		}
		log.Debug("push channel closed", "error", err, "retry_in", backoff)
		if c.sleep(ctx, backoff) != nil {
			return
		}
		backoff = min(backoff*2, pushRetryMax)
	}
}
