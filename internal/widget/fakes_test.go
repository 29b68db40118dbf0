package widget

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
)

// fakeAPI is a scriptable support server. Nil hooks fall back to harmless
// defaults: an empty open ticket, nothing new or unread, no scripted messages.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	create  func(form url.Values) (*client.Ticket, error)
	history func(ticketID string) (*client.History, error)
	poll    func(ticketID, marker string) (*client.NewMessages, error)
	unread  func() (*client.UnreadCount, error)
	send    func(ticketID, text string) (*client.SendResult, error)
	bot     func(ticketID string, n int) (*client.BotMessage, error)

	botIndices  []int
	pollMarkers []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func (f *fakeAPI) fetchedIndices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.botIndices...)
}

func (f *fakeAPI) CreateTicket(_ context.Context, form url.Values) (*client.Ticket, error) {
	f.record("create")
	if f.create != nil {
		return f.create(form)
	}
	return &client.Ticket{ID: "T-new", HumanID: "HD-NEW", Status: "open"}, nil
}

func (f *fakeAPI) LoadHistory(_ context.Context, ticketID string) (*client.History, error) {
	f.record("history")
	if f.history != nil {
		return f.history(ticketID)
	}
	return &client.History{Success: true, Status: "open"}, nil
}

func (f *fakeAPI) PollNewMessages(_ context.Context, ticketID, marker string) (*client.NewMessages, error) {
	f.record("poll")
	f.mu.Lock()
	f.pollMarkers = append(f.pollMarkers, marker)
	f.mu.Unlock()
	if f.poll != nil {
		return f.poll(ticketID, marker)
	}
	return &client.NewMessages{Success: true, TicketStatus: "open"}, nil
}

func (f *fakeAPI) PollUnread(_ context.Context) (*client.UnreadCount, error) {
	f.record("unread")
	if f.unread != nil {
		return f.unread()
	}
	return &client.UnreadCount{Success: true}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, ticketID, text string) (*client.SendResult, error) {
	f.record("send")
	if f.send != nil {
		return f.send(ticketID, text)
	}
	return &client.SendResult{Success: true, MessageID: "u1", Time: "10:00"}, nil
}

func (f *fakeAPI) FetchBotMessage(_ context.Context, ticketID string, n int) (*client.BotMessage, error) {
	f.record("bot")
	f.mu.Lock()
	f.botIndices = append(f.botIndices, n)
	f.mu.Unlock()
	if f.bot != nil {
		return f.bot(ticketID, n)
	}
	return nil, fmt.Errorf("bot %d: %w", n, client.ErrUnavailable)
}

// fakeView records what the controller renders.
type fakeView struct {
	mu           sync.Mutex
	badge        bool
	badgeShows   int
	open         bool
	transcript   []client.Message
	scrolls      int
	composing    bool
	composings   int
	inputEnabled bool
	ticketInfo   []session.Ticket
	emptyStates  int
	closing      []session.Ticket
	notice       string
	notices      []string
	dismissed    int
}

func newFakeView() *fakeView {
	return &fakeView{inputEnabled: true}
}

func (v *fakeView) ShowBadge() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.badge = true
	v.badgeShows++
}

func (v *fakeView) HideBadge() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.badge = false
}

func (v *fakeView) SetSurfaceOpen(open bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = open
}

func (v *fakeView) ShowTranscript(msgs []client.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcript = append([]client.Message(nil), msgs...)
}

func (v *fakeView) AppendMessage(msg client.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcript = append(v.transcript, msg)
}

func (v *fakeView) ScrollToEnd() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls++
}

func (v *fakeView) ShowComposing() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.composing = true
	v.composings++
}

func (v *fakeView) HideComposing() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.composing = false
}

func (v *fakeView) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputEnabled = enabled
}

func (v *fakeView) ShowTicketInfo(t session.Ticket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ticketInfo = append(v.ticketInfo, t)
}

func (v *fakeView) ShowEmptyState() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emptyStates++
}

func (v *fakeView) ShowClosingNotice(t session.Ticket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closing = append(v.closing, t)
}

func (v *fakeView) ShowNotice(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notice = text
	v.notices = append(v.notices, text)
}

func (v *fakeView) DismissNotice() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notice = ""
	v.dismissed++
}

func (v *fakeView) badgeVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.badge
}

func (v *fakeView) messageIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.transcript))
	for _, m := range v.transcript {
		ids = append(ids, m.ID)
	}
	return ids
}

// tab bundles one controller with its storage handle.
type tab struct {
	c     *Controller
	api   *fakeAPI
	view  *fakeView
	st    *storage.MemoryStorage
	store *session.Store

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

type tabOption func(*Options)

func withIntervals(msg, unread time.Duration) tabOption {
	return func(o *Options) {
		o.MessageCheckInterval = msg
		o.UnreadCheckInterval = unread
	}
}

func withBotCap(n int) tabOption {
	return func(o *Options) { o.BotMaxMessages = n }
}

func withNoticeTTL(d time.Duration) tabOption {
	return func(o *Options) { o.NoticeTTL = d }
}

func withPush(p Pusher) tabOption {
	return func(o *Options) { o.Push = p }
}

func withLogger(l *slog.Logger) tabOption {
	return func(o *Options) { o.Logger = l }
}

// syncBuffer is a bytes.Buffer safe for concurrent log writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(substr string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

// newTab opens a controller on origin. Timers default to an hour so they
// never fire unless a test asks for it; sleeps are recorded, not waited.
func newTab(t *testing.T, origin *storage.Origin, api *fakeAPI, opts ...tabOption) *tab {
	t.Helper()
	st := origin.Open()
	store := session.NewStore(st)
	view := newFakeView()

	o := Options{
		API:                  api,
		Store:                store,
		View:                 view,
		MessageCheckInterval: time.Hour,
		UnreadCheckInterval:  time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := New(o)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tb := &tab{c: c, api: api, view: view, st: st, store: store}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		tb.sleepMu.Lock()
		tb.sleeps = append(tb.sleeps, d)
		tb.sleepMu.Unlock()
		return ctx.Err()
	}
	t.Cleanup(func() {
		c.Stop()
		st.Close()
	})
	return tb
}

func (tb *tab) recordedSleeps() []time.Duration {
	tb.sleepMu.Lock()
	defer tb.sleepMu.Unlock()
	return append([]time.Duration(nil), tb.sleeps...)
}

// waitIdle waits for storage events and background work to settle.
func (tb *tab) waitIdle(t *testing.T) {
	t.Helper()
	tb.st.Wait()
	waitFor(t, func() bool { return !tb.c.Snapshot().BotRunning })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func seedSession(t *testing.T, origin *storage.Origin, sess session.Session) {
	t.Helper()
	st := origin.Open()
	defer st.Close()
	if err := session.NewStore(st).Save(sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}
