package widget

import (
	"errors"

	"github.com/inercia/helpdesk/internal/client"
)

// startBotLocked launches the scripted sequence for ticketID, resuming after
// the existing bot messages. A second call while one sequence is running is
// a no-op.
// Must be called with c.mu held.
func (c *Controller) startBotLocked(ticketID string, gen uint64, existing int) {
	if c.botRunning {
		return
	}
	c.botStarted[ticketID] = true
	if existing >= c.botMax {
		return
	}
	c.botRunning = true
	c.goAsync(func() {
		defer func() {
			c.mu.Lock()
			c.botRunning = false
			c.mu.Unlock()
		}()
		c.runBot(ticketID, gen, existing)
	})
}

// runBot fetches indices existing+1 .. cap in order. Every fetch is preceded
// by the composing indicator, and every fetch after the first by the
// inter-message delay. Unavailable indices are skipped.
func (c *Controller) runBot(ticketID string, gen uint64, existing int) {
	log := c.log("bot", ticketID)
	ctx := c.ctx
	log.Debug("bot sequence started", "from", existing+1, "to", c.botMax)

	for n := existing + 1; n <= c.botMax; n++ {
		if n > existing+1 {
			if err := c.sleep(ctx, c.botDelay); err != nil {
				return
			}
		}
		if !c.botActive(gen) {
			log.Debug("bot sequence interrupted", "next", n)
			return
		}

		c.withView(func(v View) { v.ShowComposing() })
		err := c.sleep(ctx, c.composingDelay)
		c.withView(func(v View) { v.HideComposing() })
		if err != nil {
			return
		}

		msg, err := c.api.FetchBotMessage(ctx, ticketID, n)
		if err != nil {
			if errors.Is(err, client.ErrUnavailable) {
				log.Debug("bot message unavailable", "index", n)
			} else {
				log.Warn("failed to fetch bot message", "index", n, "error", err)
			}
			continue
		}

		if stop := c.applyBotMessage(gen, msg); stop {
			return
		}
	}
	log.Debug("bot sequence finished")
}

// applyBotMessage renders one scripted message and reports whether the
// sequence must stop.
func (c *Controller) applyBotMessage(gen uint64, msg *client.BotMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.locked {
		return true
	}
	if msg.Text != "" {
		c.appendLocked(msg.AsMessage())
		c.view.ScrollToEnd()
		if c.sess.SurfaceOpen {
			c.setMarkerLocked(msg.MessageID)
		}
	}
	if client.IsResolved(msg.TicketStatus) {
		c.terminateLocked("bot")
		return true
	}
	return false
}

func (c *Controller) botActive(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation && !c.locked && !c.stopped
}

// withView runs fn with the controller lock held.
func (c *Controller) withView(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.view)
}
