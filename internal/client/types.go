package client

import "strings"

// StatusResolved is the ticket status that ends a conversation.
const StatusResolved = "resolved"

// Message senders.
const (
	SenderUser    = "user"
	SenderBot     = "bot"
	SenderSupport = "support"
)

// IsResolved reports whether a ticket status is terminal.
func IsResolved(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), StatusResolved)
}

// Ticket identifies a support request.
type Ticket struct {
	ID       string `json:"ticket_id"`
	HumanID  string `json:"human_readable_id,omitempty"`
	Status   string `json:"status,omitempty"`
	UserRole string `json:"user_role,omitempty"`
}

// Message is one chat bubble. ID is empty when the server did not issue one.
type Message struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
	Time   string `json:"time,omitempty"`
}

// IsBot reports whether the message was authored by the scripted bot.
func (m Message) IsBot() bool {
	return m.Sender == SenderBot
}

// History is the full transcript of a ticket.
type History struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Status   string    `json:"status"`
	Messages []Message `json:"messages"`
}

// BotCount returns how many messages in the history were authored by the bot.
func (h *History) BotCount() int {
	n := 0
	for _, m := range h.Messages {
		if m.IsBot() {
			n++
		}
	}
	return n
}

// NewMessages is the answer to a "newer than marker" poll.
type NewMessages struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	NewCount     int       `json:"new_count"`
	LatestSeenID string    `json:"latest_seen_id"`
	NewMessages  []Message `json:"new_messages"`
	TicketStatus string    `json:"ticket_status"`
}

// UnreadCount is the answer to the unread-count poll.
type UnreadCount struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	TotalUnread int    `json:"total_unread"`
	UserRole    string `json:"user_role,omitempty"`
}

// SendResult acknowledges a user message.
type SendResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id"`
	Time      string `json:"time"`
	Resolved  bool   `json:"resolved,omitempty"`
}

// BotMessage is one scripted message delivered by the server.
type BotMessage struct {
	Success   bool   `json:"success"`
	Text      string `json:"text"`
	Time      string `json:"time"`
	MessageID string `json:"message_id"`
	// TicketStatus is set when the server reports the ticket state along
	// with the message.
	TicketStatus string `json:"ticket_status,omitempty"`
}

// AsMessage converts the scripted message into a transcript message.
func (b *BotMessage) AsMessage() Message {
	return Message{ID: b.MessageID, Text: b.Text, Sender: SenderBot, Time: b.Time}
}
