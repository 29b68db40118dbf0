package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/inercia/helpdesk/internal/logging"
)

// Push event types sent over the ticket websocket.
const (
	PushNewMessage    = "new_message"
	PushStatusChanged = "status_changed"
)

// PushEvent is a nudge from the server. It carries no authoritative state;
// receivers are expected to poll.
type PushEvent struct {
	Type      string `json:"type"`
	TicketID  string `json:"ticket_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Watch connects to the ticket's websocket and calls onEvent for every nudge
// until ctx is cancelled or the connection fails. It always returns a non-nil
// error; ctx.Err() when cancelled.
func (c *Client) Watch(ctx context.Context, ticketID string, onEvent func(PushEvent)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = c.apiPrefix + ticketPath(ticketID, "/ws")

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	log := logging.Client()
	log.Debug("push channel connected", "ticket_id", ticketID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		var ev PushEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug("ignoring malformed push event", "error", err)
			continue
		}
		if ev.TicketID != "" && ev.TicketID != ticketID {
			continue
		}
		onEvent(ev)
	}
}
