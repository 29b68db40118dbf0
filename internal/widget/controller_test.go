package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
)

func TestNew_RequiresView(t *testing.T) {
	st := storage.NewOrigin().Open()
	defer st.Close()

	_, err := New(Options{API: newFakeAPI(), Store: session.NewStore(st)})
	if !errors.Is(err, ErrNoView) {
		t.Errorf("New without view = %v, want ErrNoView", err)
	}
}

func TestStart_EmptyStorage(t *testing.T) {
	api := newFakeAPI()
	tb := newTab(t, storage.NewOrigin(), api)

	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if api.total() != 0 {
		t.Errorf("Start without a ticket issued %d requests", api.total())
	}
	if tb.c.TimersRunning() {
		t.Error("timers running without a ticket")
	}
}

func TestStart_RestoresAndValidates(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{
		ActiveTicket:      &session.Ticket{ID: "T1", HumanID: "HD-1"},
		LastSeenMessageID: "m2",
		UnreadFlag:        true,
	})

	api := newFakeAPI()
	api.history = func(string) (*client.History, error) {
		return &client.History{Success: true, Status: "open", Messages: []client.Message{
			{ID: "m1", Text: "hi", Sender: client.SenderUser},
			{ID: "m2", Text: "hello", Sender: client.SenderSupport},
		}}, nil
	}
	tb := newTab(t, origin, api)

	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	state := tb.c.Snapshot()
	if state.Session.TicketID() != "T1" || state.Session.LastSeenMessageID != "m2" {
		t.Errorf("restored session = %+v", state.Session)
	}
	if !state.IndicatorVisible || !tb.view.badgeVisible() {
		t.Error("restored unread flag should show the badge")
	}
	if !tb.c.TimersRunning() {
		t.Error("timers should run for a restored ticket")
	}
	if len(tb.view.ticketInfo) == 0 || tb.view.ticketInfo[0].HumanID != "HD-1" {
		t.Errorf("ticket feedback line not rendered: %+v", tb.view.ticketInfo)
	}
}

func TestStart_NotFoundClearsSession(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{
		ActiveTicket:      &session.Ticket{ID: "gone"},
		LastSeenMessageID: "m1",
		UnreadFlag:        true,
		UserRole:          "employee",
	})

	api := newFakeAPI()
	api.history = func(string) (*client.History, error) {
		return nil, client.ErrTicketNotFound
	}
	tb := newTab(t, origin, api)

	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	state := tb.c.Snapshot()
	if state.Session.HasTicket() || state.Session.LastSeenMessageID != "" || state.Session.UnreadFlag {
		t.Errorf("session not cleared: %+v", state.Session)
	}
	for _, key := range session.TicketKeys {
		if _, ok := origin.Snapshot()[key]; ok {
			t.Errorf("key %s survived not-found", key)
		}
	}
	if tb.view.badgeVisible() {
		t.Error("badge visible after clear")
	}
	if tb.c.TimersRunning() {
		t.Error("timers running after clear")
	}
}

func TestStart_NonSuccessClearsSession(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{ActiveTicket: &session.Ticket{ID: "T1"}, LastSeenMessageID: "m1"})

	api := newFakeAPI()
	api.history = func(string) (*client.History, error) {
		return nil, &client.APIError{Op: "load history", Message: "ticket closed"}
	}
	tb := newTab(t, origin, api)
	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if s := tb.c.Snapshot().Session; s.HasTicket() {
		t.Errorf("restored ticket should be dropped: %+v", s)
	}
	if _, ok := origin.Snapshot()[session.KeyActiveTicket]; ok {
		t.Error("persisted ticket should be removed")
	}
}

func TestLogger_CarriesInstanceOnce(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	api := newFakeAPI()
	tb := newTab(t, storage.NewOrigin(), api, withLogger(logger))
	_ = tb.c.Start(context.Background())

	if _, err := tb.c.CreateTicket(context.Background(), url.Values{"subject": {"printer"}}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	tb.waitIdle(t)
	tb.c.Close()
	_ = tb.c.Open(context.Background())
	tb.waitIdle(t)

	for _, msg := range []string{"ticket created", "surface opened"} {
		lines := buf.lines(msg)
		if len(lines) == 0 {
			t.Fatalf("no %q line in log", msg)
		}
		if n := strings.Count(lines[0], "instance_id="); n != 1 {
			t.Errorf("%q carries instance_id %d times: %s", msg, n, lines[0])
		}
		if !strings.Contains(lines[0], "ticket_id=T-new") {
			t.Errorf("%q missing ticket_id: %s", msg, lines[0])
		}
	}
	if line := buf.lines("surface opened")[0]; !strings.Contains(line, "component=surface") {
		t.Errorf("surface line missing component: %s", line)
	}
}

func TestStart_TransportErrorKeepsState(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{
		ActiveTicket:      &session.Ticket{ID: "T1"},
		LastSeenMessageID: "m1",
	})

	api := newFakeAPI()
	api.history = func(string) (*client.History, error) {
		return nil, errors.New("connection refused")
	}
	tb := newTab(t, origin, api)

	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state := tb.c.Snapshot()
	if state.Session.TicketID() != "T1" || state.Session.LastSeenMessageID != "m1" {
		t.Errorf("state lost on transport failure: %+v", state.Session)
	}
	if !tb.c.TimersRunning() {
		t.Error("timers should keep running to retry")
	}
}

func TestCreateTicket(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{
		ActiveTicket:      &session.Ticket{ID: "old"},
		LastSeenMessageID: "old-m",
	})

	api := newFakeAPI()
	var gotForm url.Values
	api.create = func(form url.Values) (*client.Ticket, error) {
		gotForm = form
		return &client.Ticket{ID: "T2", HumanID: "HD-2", Status: "open", UserRole: "employee"}, nil
	}
	tb := newTab(t, origin, api)
	if err := tb.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ticket, err := tb.c.CreateTicket(context.Background(), url.Values{"subject": {"VPN"}})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	tb.waitIdle(t)

	if gotForm.Get("subject") != "VPN" {
		t.Errorf("form = %v", gotForm)
	}
	if ticket.ID != "T2" {
		t.Errorf("ticket = %+v", ticket)
	}

	state := tb.c.Snapshot()
	if !state.Session.SurfaceOpen {
		t.Error("surface should open after creating a ticket")
	}
	if state.Session.UserRole != "employee" {
		t.Errorf("UserRole = %q", state.Session.UserRole)
	}
	if state.Session.LastSeenMessageID == "old-m" {
		t.Error("marker carried over from the previous ticket")
	}

	stored := tb.store.Load()
	if stored.TicketID() != "T2" {
		t.Errorf("stored ticket = %q, want T2", stored.TicketID())
	}
	if got := api.fetchedIndices(); len(got) != DefaultBotMaxMessages {
		t.Errorf("bot fetched %v, want %d indices", got, DefaultBotMaxMessages)
	}
}

func TestCreateTicket_FailureShowsNotice(t *testing.T) {
	api := newFakeAPI()
	api.create = func(url.Values) (*client.Ticket, error) {
		return nil, &client.APIError{Op: "create ticket", Message: "subject required"}
	}
	tb := newTab(t, storage.NewOrigin(), api, withNoticeTTL(10*time.Millisecond))
	_ = tb.c.Start(context.Background())

	if _, err := tb.c.CreateTicket(context.Background(), url.Values{}); err == nil {
		t.Fatal("expected error")
	}

	tb.view.mu.Lock()
	notices := append([]string(nil), tb.view.notices...)
	tb.view.mu.Unlock()
	if len(notices) != 1 || notices[0] != "Could not create the ticket: subject required" {
		t.Errorf("notices = %q", notices)
	}

	waitFor(t, func() bool {
		tb.view.mu.Lock()
		defer tb.view.mu.Unlock()
		return tb.view.dismissed == 1 && tb.view.notice == ""
	})
}

func TestSendMessage(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{ActiveTicket: &session.Ticket{ID: "T1"}})

	api := newFakeAPI()
	api.send = func(ticketID, text string) (*client.SendResult, error) {
		if ticketID != "T1" || text != "hello" {
			t.Errorf("send(%q, %q)", ticketID, text)
		}
		return &client.SendResult{Success: true, MessageID: "u7", Time: "10:01"}, nil
	}
	tb := newTab(t, origin, api)
	_ = tb.c.Start(context.Background())

	if err := tb.c.SendMessage(context.Background(), "   "); err != nil {
		t.Fatalf("empty message: %v", err)
	}
	if api.count("send") != 0 {
		t.Error("empty message was sent")
	}

	if err := tb.c.SendMessage(context.Background(), "  hello "); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	state := tb.c.Snapshot()
	if state.Session.LastSeenMessageID != "u7" {
		t.Errorf("marker = %q, want u7", state.Session.LastSeenMessageID)
	}
	if n := len(state.Transcript); n != 1 || state.Transcript[0].Sender != client.SenderUser {
		t.Errorf("transcript = %+v", state.Transcript)
	}
}

func TestSendMessage_ResolvedLocks(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{ActiveTicket: &session.Ticket{ID: "T1"}})

	api := newFakeAPI()
	api.send = func(string, string) (*client.SendResult, error) {
		return &client.SendResult{Success: true, MessageID: "u1", Resolved: true}, nil
	}
	tb := newTab(t, origin, api)
	_ = tb.c.Start(context.Background())

	if err := tb.c.SendMessage(context.Background(), "thanks, fixed"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !tb.c.Snapshot().Locked {
		t.Error("conversation should be locked")
	}
	if tb.view.inputEnabled {
		t.Error("input should be disabled")
	}
	if len(tb.view.closing) != 1 {
		t.Errorf("closing notices = %d, want 1", len(tb.view.closing))
	}
	if err := tb.c.SendMessage(context.Background(), "more"); !errors.Is(err, ErrNoActiveTicket) && !errors.Is(err, ErrLocked) {
		t.Errorf("send after resolve = %v", err)
	}
}

func TestSendMessage_NoTicket(t *testing.T) {
	tb := newTab(t, storage.NewOrigin(), newFakeAPI())
	_ = tb.c.Start(context.Background())

	if err := tb.c.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNoActiveTicket) {
		t.Errorf("SendMessage = %v, want ErrNoActiveTicket", err)
	}
}

func TestNewTicket_Resets(t *testing.T) {
	origin := storage.NewOrigin()
	seedSession(t, origin, session.Session{
		ActiveTicket:      &session.Ticket{ID: "T1"},
		LastSeenMessageID: "m1",
		UnreadFlag:        true,
		UserRole:          "employee",
	})
	tb := newTab(t, origin, newFakeAPI())
	_ = tb.c.Start(context.Background())

	if err := tb.c.NewTicket(); err != nil {
		t.Fatalf("NewTicket failed: %v", err)
	}
	state := tb.c.Snapshot()
	if state.Session.HasTicket() || state.Session.LastSeenMessageID != "" || state.Session.UnreadFlag {
		t.Errorf("session = %+v", state.Session)
	}
	if state.Session.UserRole != "employee" {
		t.Error("user role should survive a new ticket")
	}
	if tb.c.TimersRunning() {
		t.Error("timers still running")
	}
	if tb.view.badgeVisible() {
		t.Error("badge still visible")
	}
}

func TestStop_IsFinal(t *testing.T) {
	tb := newTab(t, storage.NewOrigin(), newFakeAPI())
	_ = tb.c.Start(context.Background())
	tb.c.Stop()
	tb.c.Stop()

	if err := tb.c.Open(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Open after Stop = %v, want ErrStopped", err)
	}
}
