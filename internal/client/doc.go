// Package client provides a Go client for the support server's chat API.
//
// # Basic Usage
//
// Create a client and open a ticket:
//
//	c := client.New("https://support.example.com")
//	ticket, err := c.CreateTicket(ctx, url.Values{
//	    "subject":     {"Printer offline"},
//	    "description": {"The third floor printer does not answer"},
//	})
//
// Poll for messages newer than the last one seen:
//
//	resp, err := c.PollNewMessages(ctx, ticket.ID, lastSeenID)
//	if err == nil && resp.NewCount > 0 {
//	    // resp.LatestSeenID is the server-attested tip
//	}
//
// # Push Nudges
//
// Watch blocks on the ticket websocket and reports nudges. Nudges carry no
// state of their own; they only tell the caller to poll now:
//
//	go c.Watch(ctx, ticket.ID, func(ev client.PushEvent) {
//	    if ev.Type == client.PushNewMessage {
//	        trigger()
//	    }
//	})
//
// # Errors
//
// A 404 on a ticket endpoint is reported as ErrTicketNotFound, a response
// with success=false as *APIError, and any other non-OK status as
// *StatusError. A missing scripted message is ErrUnavailable.
//
// # Thread Safety
//
// The Client is safe for concurrent use from multiple goroutines.
package client
