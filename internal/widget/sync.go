package widget

import (
	"log/slog"

	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
)

// handleStorageEvent reconciles in-memory state with a change made by
// another instance. It never issues a network call.
func (c *Controller) handleStorageEvent(ev storage.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	log := c.log("sync", "")

	switch ev.Key {
	case session.KeyActiveTicket:
		c.syncTicketLocked(ev, log)

	case session.KeyLastSeen:
		if ev.Removed {
			return
		}
		m, err := session.ParseMarker(ev.NewValue)
		if err != nil {
			log.Debug("ignoring malformed marker", "error", err)
			return
		}
		if m.TicketID != c.sess.TicketID() || m.MessageID == c.sess.LastSeenMessageID {
			return
		}
		log.Debug("adopting marker", "ticket_id", m.TicketID, "last_seen_id", m.MessageID)
		c.sess.LastSeenMessageID = m.MessageID

	case session.KeyUnread:
		unread := !ev.Removed && session.ParseUnread(ev.NewValue)
		switch {
		case unread && !c.sess.UnreadFlag && !c.sess.SurfaceOpen && c.sess.HasTicket():
			c.sess.UnreadFlag = true
		case !unread && c.sess.UnreadFlag:
			// Acknowledged in another instance.
			c.sess.UnreadFlag = false
		}
		c.badge.reconcile(&c.sess)

	case session.KeyUserRole:
		if ev.Removed {
			c.sess.UserRole = ""
		} else {
			c.sess.UserRole = ev.NewValue
		}
	}
}

// syncTicketLocked adopts a ticket chosen by another instance, or forgets the
// ticket when another instance cleared it.
// Must be called with c.mu held.
func (c *Controller) syncTicketLocked(ev storage.Event, log *slog.Logger) {
	if ev.Removed {
		if !c.sess.HasTicket() {
			return
		}
		log.Info("ticket cleared by another instance", "ticket_id", c.sess.TicketID())
		c.resetLocked()
		c.view.ShowTranscript(nil)
		if c.sess.SurfaceOpen {
			c.view.ShowEmptyState()
		}
		return
	}

	t, err := session.ParseTicket(ev.NewValue)
	if err != nil {
		log.Debug("ignoring malformed ticket", "error", err)
		return
	}

	if t.ID == c.sess.TicketID() {
		// Same ticket, refreshed metadata.
		c.sess.ActiveTicket = t
		return
	}

	log.Info("adopting ticket from another instance",
		"ticket_id", t.ID,
		"previous_ticket_id", c.sess.TicketID())

	c.adoptTicketLocked(t)
	if t.UserRole != "" && c.sess.UserRole == "" {
		c.sess.UserRole = t.UserRole
	}

	// A marker already recorded for this ticket is server attested and may
	// be adopted; one for any other ticket never carries over.
	if raw, ok, err := c.st.Get(session.KeyLastSeen); err == nil && ok {
		if m, err := session.ParseMarker(raw); err == nil && m.TicketID == t.ID {
			c.sess.LastSeenMessageID = m.MessageID
		}
	}

	c.view.ShowTranscript(nil)
	c.view.ShowTicketInfo(*t)
	c.view.SetInputEnabled(true)
	c.badge.reconcile(&c.sess)
	c.startTimersLocked()
}
