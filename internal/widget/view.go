package widget

import (
	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
)

// View renders the chat surface. The controller serializes every call, so
// implementations need no locking of their own, but they must not call back
// into the controller synchronously.
type View interface {
	// ShowBadge renders the unread badge with an attention animation.
	ShowBadge()
	HideBadge()

	// SetSurfaceOpen reflects the open/closed state of the chat surface.
	SetSurfaceOpen(open bool)
	// ShowTranscript replaces the rendered transcript.
	ShowTranscript(msgs []client.Message)
	AppendMessage(msg client.Message)
	ScrollToEnd()

	ShowComposing()
	HideComposing()

	// SetInputEnabled toggles message composition.
	SetInputEnabled(enabled bool)

	// ShowTicketInfo renders the persistent ticket feedback line.
	ShowTicketInfo(t session.Ticket)
	// ShowEmptyState is rendered when the surface is opened with no ticket.
	ShowEmptyState()
	// ShowClosingNotice is rendered once a ticket is resolved.
	ShowClosingNotice(t session.Ticket)

	// ShowNotice renders a transient message; DismissNotice removes it.
	ShowNotice(text string)
	DismissNotice()
}
