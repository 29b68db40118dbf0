package widget

import (
	"github.com/inercia/helpdesk/internal/session"
)

// indicator tracks what the view currently shows so that the badge is only
// touched on a visibility transition.
type indicator struct {
	view    View
	visible bool
}

// reconcile derives the badge visibility from s and enforces it.
func (i *indicator) reconcile(s *session.Session) {
	want := s.IndicatorVisible()
	if want == i.visible {
		return
	}
	i.visible = want
	if want {
		i.view.ShowBadge()
	} else {
		i.view.HideBadge()
	}
}

// showIndicatorLocked records unread items and re-derives the badge. It is a
// no-op while the surface is open or when no ticket is active.
// Must be called with c.mu held.
func (c *Controller) showIndicatorLocked() {
	if c.sess.SurfaceOpen || !c.sess.HasTicket() {
		return
	}
	if !c.sess.UnreadFlag {
		c.sess.UnreadFlag = true
		if err := c.store.SaveUnread(true); err != nil {
			c.logger.Warn("failed to persist unread flag", "error", err)
		}
	}
	c.badge.reconcile(&c.sess)
}

// hideIndicatorLocked clears the unread flag and re-derives the badge.
// Must be called with c.mu held.
func (c *Controller) hideIndicatorLocked() {
	if c.sess.UnreadFlag {
		c.sess.UnreadFlag = false
	}
	if c.sess.HasTicket() {
		if err := c.store.SaveUnread(false); err != nil {
			c.logger.Warn("failed to persist unread flag", "error", err)
		}
	}
	c.badge.reconcile(&c.sess)
}
