package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/inercia/helpdesk/internal/logging"
	"github.com/inercia/helpdesk/internal/storage"
)

// ErrMalformed is returned by the parse helpers for unreadable stored values.
var ErrMalformed = errors.New("malformed stored value")

// Store mirrors a Session into durable storage, one key per field.
type Store struct {
	st     storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a session store on top of st.
func NewStore(st storage.Storage) *Store {
	return &Store{
		st:     st,
		logger: logging.Store(),
		now:    time.Now,
	}
}

// Storage returns the underlying storage.
func (s *Store) Storage() storage.Storage {
	return s.st
}

// Load restores the session. It never fails: unreadable entries are
// discarded and the corresponding field is left empty.
func (s *Store) Load() Session {
	var sess Session

	if raw, ok := s.get(KeyActiveTicket); ok {
		t, err := ParseTicket(raw)
		if err != nil {
			s.discard(KeyActiveTicket, err)
		} else {
			sess.ActiveTicket = t
		}
	}

	if raw, ok := s.get(KeyLastSeen); ok {
		m, err := ParseMarker(raw)
		switch {
		case err != nil:
			s.discard(KeyLastSeen, err)
		case sess.HasTicket() && m.TicketID == sess.ActiveTicket.ID:
			sess.LastSeenMessageID = m.MessageID
		default:
			s.logger.Debug("ignoring marker recorded for another ticket",
				"marker_ticket_id", m.TicketID,
				"active_ticket_id", sess.TicketID())
		}
	}

	if raw, ok := s.get(KeyUnread); ok {
		sess.UnreadFlag = ParseUnread(raw) && sess.HasTicket()
	}

	if raw, ok := s.get(KeyUserRole); ok {
		sess.UserRole = raw
	}
	if sess.UserRole == "" && sess.ActiveTicket != nil {
		sess.UserRole = sess.ActiveTicket.UserRole
	}

	return sess
}

// Save writes every persisted field of sess. Fields are written
// independently; all errors are reported.
func (s *Store) Save(sess Session) error {
	return errors.Join(
		s.SaveTicket(sess.ActiveTicket),
		s.SaveMarker(sess.TicketID(), sess.LastSeenMessageID),
		s.SaveUnread(sess.UnreadFlag),
		s.SaveRole(sess.UserRole),
	)
}

// SaveTicket writes the active ticket, or removes it when t is nil.
func (s *Store) SaveTicket(t *Ticket) error {
	if t == nil {
		return s.remove(KeyActiveTicket)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	return s.set(KeyActiveTicket, string(data))
}

// SaveMarker records messageID as seen for ticketID. An empty messageID or
// ticketID removes the record.
func (s *Store) SaveMarker(ticketID, messageID string) error {
	if ticketID == "" || messageID == "" {
		return s.remove(KeyLastSeen)
	}
	data, err := json.Marshal(Marker{
		MessageID: messageID,
		Timestamp: s.now().UnixMilli(),
		TicketID:  ticketID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	return s.set(KeyLastSeen, string(data))
}

// SaveUnread writes the unread flag.
func (s *Store) SaveUnread(unread bool) error {
	return s.set(KeyUnread, strconv.FormatBool(unread))
}

// SaveRole writes the user role, or removes it when empty.
func (s *Store) SaveRole(role string) error {
	if role == "" {
		return s.remove(KeyUserRole)
	}
	return s.set(KeyUserRole, role)
}

// Clear removes the ticket-scoped keys: active ticket, marker and unread flag.
func (s *Store) Clear() error {
	return s.removeAll(TicketKeys)
}

// ClearAll removes every session key including the user role.
func (s *Store) ClearAll() error {
	return s.removeAll(Keys)
}

func (s *Store) removeAll(keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) get(key string) (string, bool) {
	raw, ok, err := s.st.Get(key)
	if err != nil {
		s.logger.Warn("failed to read session key", "key", key, "error", err)
		return "", false
	}
	return raw, ok
}

func (s *Store) set(key, value string) error {
	if err := s.st.Set(key, value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	if err := s.st.Remove(key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) discard(key string, err error) {
	s.logger.Warn("discarding malformed session key", "key", key, "error", err)
	if rmErr := s.st.Remove(key); rmErr != nil {
		s.logger.Debug("failed to remove malformed key", "key", key, "error", rmErr)
	}
}

// ParseTicket decodes a stored active-ticket record.
func ParseTicket(raw string) (*Ticket, error) {
	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("%w: ticket: %v", ErrMalformed, err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("%w: ticket has no id", ErrMalformed)
	}
	return &t, nil
}

// ParseMarker decodes a stored last-seen record.
func ParseMarker(raw string) (Marker, error) {
	var m Marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Marker{}, fmt.Errorf("%w: marker: %v", ErrMalformed, err)
	}
	if m.MessageID == "" || m.TicketID == "" {
		return Marker{}, fmt.Errorf("%w: incomplete marker", ErrMalformed)
	}
	return m, nil
}

// ParseUnread decodes a stored unread flag. Anything but "true" is false.
func ParseUnread(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}
