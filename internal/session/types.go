// Package session holds the client-side chat session and its durable mirror.
package session

// Storage keys. Each logical field lives under its own key so a reader in
// another instance never observes a torn composite value.
const (
	KeyActiveTicket = "active_ticket"
	KeyLastSeen     = "last_seen"
	KeyUnread       = "unread_indicator"
	KeyUserRole     = "user_role"
)

// Keys lists every key owned by the session, in write order.
var Keys = []string{KeyActiveTicket, KeyLastSeen, KeyUnread, KeyUserRole}

// TicketKeys lists the keys scoped to the active ticket. The user role
// outlives any single ticket.
var TicketKeys = []string{KeyActiveTicket, KeyLastSeen, KeyUnread}

// Ticket identifies the in-progress support ticket.
type Ticket struct {
	ID       string `json:"ticket_id"`
	HumanID  string `json:"human_readable_id,omitempty"`
	Status   string `json:"status,omitempty"`
	UserRole string `json:"user_role,omitempty"`
}

// Marker is the persisted last-seen record. It is only meaningful for the
// ticket it was recorded against.
type Marker struct {
	MessageID string `json:"last_seen_message_id"`
	// Timestamp is the recording time in Unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	TicketID  string `json:"ticket_id"`
}

// Session is the client-side state of the chat widget.
type Session struct {
	// ActiveTicket is nil when no ticket is in progress.
	ActiveTicket *Ticket
	// LastSeenMessageID is always a server-issued message id, or empty.
	LastSeenMessageID string
	UnreadFlag        bool
	// SurfaceOpen is in-memory only and never persisted.
	SurfaceOpen bool
	UserRole    string
}

// HasTicket reports whether a ticket is active.
func (s Session) HasTicket() bool {
	return s.ActiveTicket != nil && s.ActiveTicket.ID != ""
}

// TicketID returns the active ticket id or "".
func (s Session) TicketID() string {
	if s.ActiveTicket == nil {
		return ""
	}
	return s.ActiveTicket.ID
}

// IndicatorVisible derives the unread badge visibility.
func (s Session) IndicatorVisible() bool {
	return s.HasTicket() && s.UnreadFlag && !s.SurfaceOpen
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	if s.ActiveTicket != nil {
		t := *s.ActiveTicket
		s.ActiveTicket = &t
	}
	return s
}
