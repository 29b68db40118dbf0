// Package widget implements the support-chat controller: the unread
// indicator, the notification poller, the chat surface state machine, the
// scripted bot sequence and cross-instance synchronization.
//
// One Controller plays the role of one browser tab. Several controllers
// opened on the same storage origin keep each other aligned through storage
// events.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/logging"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
)

// Defaults for Options fields left zero.
const (
	DefaultMessageCheckInterval = 30 * time.Second
	DefaultUnreadCheckInterval  = 2 * time.Minute
	DefaultBotMaxMessages       = 7
	DefaultBotDelay             = 1500 * time.Millisecond
	DefaultComposingDelay       = 800 * time.Millisecond
	DefaultNoticeTTL            = 10 * time.Second
)

var (
	// ErrNoView is returned by New when no view is available; the widget is
	// disabled for this instance.
	ErrNoView = errors.New("chat surface not available")
	// ErrNoActiveTicket is returned by operations that need a ticket.
	ErrNoActiveTicket = errors.New("no active ticket")
	// ErrLocked is returned when the conversation has been resolved.
	ErrLocked = errors.New("conversation is closed")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("controller stopped")
)

// API is the subset of the support server API used by the controller.
type API interface {
	CreateTicket(ctx context.Context, form url.Values) (*client.Ticket, error)
	LoadHistory(ctx context.Context, ticketID string) (*client.History, error)
	PollNewMessages(ctx context.Context, ticketID, lastSeenID string) (*client.NewMessages, error)
	PollUnread(ctx context.Context) (*client.UnreadCount, error)
	SendMessage(ctx context.Context, ticketID, text string) (*client.SendResult, error)
	FetchBotMessage(ctx context.Context, ticketID string, n int) (*client.BotMessage, error)
}

// Pusher delivers push nudges for a ticket. Watch blocks until ctx is done
// or the channel fails.
type Pusher interface {
	Watch(ctx context.Context, ticketID string, onEvent func(client.PushEvent)) error
}

// Options configures a Controller.
type Options struct {
	API   API
	Store *session.Store
	View  View

	// Storage is subscribed for changes made by other instances.
	// Defaults to Store.Storage().
	Storage storage.Storage

	// Push enables push nudges when non-nil.
	Push Pusher

	MessageCheckInterval time.Duration
	UnreadCheckInterval  time.Duration

	BotMaxMessages int
	BotDelay       time.Duration
	ComposingDelay time.Duration

	NoticeTTL time.Duration

	Logger     *slog.Logger
	InstanceID string
}

// State is a snapshot of the controller.
type State struct {
	Session          session.Session
	Transcript       []client.Message
	Locked           bool
	IndicatorVisible bool
	BotRunning       bool
}

// Controller owns one instance's chat session.
type Controller struct {
	api   API
	store *session.Store
	st    storage.Storage
	view  View
	push  Pusher

	messageInterval time.Duration
	unreadInterval  time.Duration
	botMax          int
	botDelay        time.Duration
	composingDelay  time.Duration
	noticeTTL       time.Duration

	id     string
	logger *slog.Logger

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	sess        session.Session
	transcript  []client.Message
	locked      bool
	generation  uint64
	badge       indicator
	botStarted  map[string]bool
	botRunning  bool
	started     bool
	stopped     bool
	messageTmr  *runner
	unreadTmr   *runner
	pushCancel  context.CancelFunc
	unsubscribe func()
	noticeTimer *time.Timer

	asyncMu      sync.Mutex
	asyncStopped bool
	wg           sync.WaitGroup
}

// New creates a controller. It does not touch storage or the network until
// Start is called.
func New(opts Options) (*Controller, error) {
	if opts.View == nil {
		return nil, ErrNoView
	}
	if opts.API == nil {
		return nil, errors.New("widget: API is required")
	}
	if opts.Store == nil {
		return nil, errors.New("widget: session store is required")
	}

	c := &Controller{
		api:             opts.API,
		store:           opts.Store,
		st:              opts.Storage,
		view:            opts.View,
		push:            opts.Push,
		messageInterval: orDuration(opts.MessageCheckInterval, DefaultMessageCheckInterval),
		unreadInterval:  orDuration(opts.UnreadCheckInterval, DefaultUnreadCheckInterval),
		botMax:          opts.BotMaxMessages,
		botDelay:        orDuration(opts.BotDelay, DefaultBotDelay),
		composingDelay:  orDuration(opts.ComposingDelay, DefaultComposingDelay),
		noticeTTL:       orDuration(opts.NoticeTTL, DefaultNoticeTTL),
		id:              opts.InstanceID,
		sleep:           sleepContext,
		botStarted:      make(map[string]bool),
	}
	if c.st == nil {
		c.st = opts.Store.Storage()
	}
	if c.botMax <= 0 {
		c.botMax = DefaultBotMaxMessages
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	base := opts.Logger
	if base == nil {
		base = logging.Get()
	}
	c.logger = logging.WithInstance(base, c.id)
	c.badge = indicator{view: c.view}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.messageTmr = newRunner("message-check", c.messageInterval, func() {
		c.goAsync(c.tickNewMessages)
	}, c.logger)
	c.unreadTmr = newRunner("unread-check", c.unreadInterval, func() {
		c.goAsync(c.tickUnread)
	}, c.logger)

	return c, nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ID returns the instance id.
func (c *Controller) ID() string {
	return c.id
}

// Start restores the session from storage, validates a restored ticket
// against the server, starts the timers when a ticket is active and begins
// listening for changes made by other instances.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.sess = c.store.Load()
	c.unsubscribe = c.st.Subscribe(c.handleStorageEvent)

	hasTicket := c.sess.HasTicket()
	ticketID := c.sess.TicketID()
	marker := c.sess.LastSeenMessageID
	unread := c.sess.UnreadFlag
	gen := c.generation
	if hasTicket {
		c.view.ShowTicketInfo(*c.sess.ActiveTicket)
	}
	c.badge.reconcile(&c.sess)
	c.mu.Unlock()

	c.logger.Debug("controller started",
		"ticket_id", ticketID,
		"last_seen_id", marker,
		"unread", unread)

	if !hasTicket {
		return nil
	}

	if _, err := c.loadHistory(ctx, ticketID, gen, true); err != nil {
		// Transport failures keep the restored state; the poller retries.
		c.logger.Debug("restored ticket not validated", "ticket_id", ticketID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation && c.sess.HasTicket() && !c.locked {
		c.startTimersLocked()
	}
	return nil
}

// Stop stops timers, the push channel and the bot sequence, and waits for
// in-flight work to finish. A stopped controller cannot be restarted.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.stopTimersLocked()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
	c.mu.Unlock()

	c.asyncMu.Lock()
	c.asyncStopped = true
	c.asyncMu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Debug("controller stopped")
}

// log returns the controller logger scoped to component, tagged with
// ticketID when one is given.
func (c *Controller) log(component, ticketID string) *slog.Logger {
	l := logging.ForComponent(c.logger, component)
	if ticketID != "" {
		l = l.With("ticket_id", ticketID)
	}
	return l
}

// goAsync runs fn in a tracked goroutine unless the controller is stopped.
func (c *Controller) goAsync(fn func()) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	if c.asyncStopped {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// CreateTicket submits the new-ticket form, adopts the returned ticket with
// an absent marker, opens the surface and starts the timers and the bot
// sequence.
func (c *Controller) CreateTicket(ctx context.Context, form url.Values) (*session.Ticket, error) {
	ct, err := c.api.CreateTicket(ctx, form)
	if err != nil {
		c.mu.Lock()
		c.noticeLocked("Could not create the ticket: " + errorText(err))
		c.mu.Unlock()
		return nil, err
	}
	t := ticketFromClient(ct)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.adoptTicketLocked(t)
	if t.UserRole != "" {
		c.sess.UserRole = t.UserRole
	}
	if err := errors.Join(
		c.store.SaveTicket(c.sess.ActiveTicket),
		c.store.SaveMarker("", ""),
		c.store.SaveUnread(false),
		c.store.SaveRole(c.sess.UserRole),
	); err != nil {
		c.logger.Warn("failed to persist new ticket", "error", err)
	}
	c.view.ShowTicketInfo(*t)
	c.view.SetInputEnabled(true)
	c.startTimersLocked()
	c.sess.SurfaceOpen = true
	c.view.SetSurfaceOpen(true)
	c.badge.reconcile(&c.sess)
	gen := c.generation
	c.mu.Unlock()

	c.logger.With("ticket_id", t.ID).Info("ticket created", "human_id", t.HumanID)

	c.enterSurface(ctx, t.ID, gen)
	return t, nil
}

// SendMessage posts text to the active ticket. Empty text is ignored.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = trimText(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if !c.sess.HasTicket() {
		c.mu.Unlock()
		return ErrNoActiveTicket
	}
	if c.locked {
		c.mu.Unlock()
		return ErrLocked
	}
	ticketID := c.sess.TicketID()
	gen := c.generation
	c.mu.Unlock()

	res, err := c.api.SendMessage(ctx, ticketID, text)
	if err != nil {
		c.mu.Lock()
		c.noticeLocked("Message not sent: " + errorText(err))
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	c.appendLocked(client.Message{
		ID:     res.MessageID,
		Text:   text,
		Sender: client.SenderUser,
		Time:   res.Time,
	})
	c.view.ScrollToEnd()
	c.setMarkerLocked(res.MessageID)
	if res.Resolved {
		c.terminateLocked("send")
	}
	return nil
}

// NewTicket discards the current ticket so the user can start another one.
func (c *Controller) NewTicket() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.view.ShowTranscript(nil)
	c.view.SetInputEnabled(true)
	if c.sess.SurfaceOpen {
		c.view.ShowEmptyState()
	}
	return c.store.Clear()
}

// Snapshot returns a copy of the in-memory state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Session:          c.sess.Clone(),
		Transcript:       append([]client.Message(nil), c.transcript...),
		Locked:           c.locked,
		IndicatorVisible: c.badge.visible,
		BotRunning:       c.botRunning,
	}
}

// adoptTicketLocked makes t the active ticket with an absent marker and
// invalidates every response issued for the previous one.
// Must be called with c.mu held.
func (c *Controller) adoptTicketLocked(t *session.Ticket) {
	c.stopTimersLocked()
	c.generation++
	c.locked = false
	c.sess.ActiveTicket = t
	c.sess.LastSeenMessageID = ""
	c.sess.UnreadFlag = false
	c.transcript = nil
	delete(c.botStarted, t.ID)
}

// resetLocked forgets the active ticket in memory and stops the timers.
// Must be called with c.mu held.
func (c *Controller) resetLocked() {
	c.stopTimersLocked()
	c.generation++
	c.locked = false
	c.sess.ActiveTicket = nil
	c.sess.LastSeenMessageID = ""
	c.sess.UnreadFlag = false
	c.transcript = nil
	c.badge.reconcile(&c.sess)
}

// clearLocked drops a ticket the server no longer knows.
// Must be called with c.mu held.
func (c *Controller) clearLocked(reason string) {
	c.logger.Info("clearing session", "ticket_id", c.sess.TicketID(), "reason", reason)
	c.resetLocked()
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", "error", err)
	}
	c.view.ShowTranscript(nil)
	if c.sess.SurfaceOpen {
		c.view.ShowEmptyState()
	}
}

// terminateLocked is the resolved transition: badge hidden, input disabled,
// timers stopped and the session cleared. Responses still in flight are
// discarded because the generation changes.
// Must be called with c.mu held.
func (c *Controller) terminateLocked(reason string) {
	t := c.sess.ActiveTicket
	c.logger.With("ticket_id", c.sess.TicketID()).Info("ticket resolved", "source", reason)

	c.stopTimersLocked()
	c.generation++
	c.locked = true
	c.sess.UnreadFlag = false
	c.sess.ActiveTicket = nil
	c.sess.LastSeenMessageID = ""
	c.badge.reconcile(&c.sess)
	c.view.HideComposing()
	c.view.SetInputEnabled(false)
	if t != nil {
		c.view.ShowClosingNotice(*t)
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", "error", err)
	}
}

// appendLocked adds msg to the transcript unless a message with the same
// server id is already rendered.
// Must be called with c.mu held.
func (c *Controller) appendLocked(msg client.Message) bool {
	if msg.ID != "" {
		for _, m := range c.transcript {
			if m.ID == msg.ID {
				return false
			}
		}
	}
	c.transcript = append(c.transcript, msg)
	c.view.AppendMessage(msg)
	return true
}

// setMarkerLocked advances the marker to a server-issued id and persists it.
// Must be called with c.mu held.
func (c *Controller) setMarkerLocked(id string) {
	if id == "" || id == c.sess.LastSeenMessageID || !c.sess.HasTicket() {
		return
	}
	c.sess.LastSeenMessageID = id
	if err := c.store.SaveMarker(c.sess.TicketID(), id); err != nil {
		c.logger.Warn("failed to persist marker", "error", err)
	}
}

// lastRenderedIDLocked returns the id of the newest rendered message that
// carries one.
// Must be called with c.mu held.
func (c *Controller) lastRenderedIDLocked() string {
	for i := len(c.transcript) - 1; i >= 0; i-- {
		if id := c.transcript[i].ID; id != "" {
			return id
		}
	}
	return ""
}

// noticeLocked shows a transient notice, dismissed after the notice TTL.
// Must be called with c.mu held.
func (c *Controller) noticeLocked(text string) {
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.view.ShowNotice(text)
	var timer *time.Timer
	timer = time.AfterFunc(c.noticeTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.noticeTimer != timer {
			return
		}
		c.noticeTimer = nil
		c.view.DismissNotice()
	})
	c.noticeTimer = timer
}

func ticketFromClient(t *client.Ticket) *session.Ticket {
	return &session.Ticket{
		ID:       t.ID,
		HumanID:  t.HumanID,
		Status:   t.Status,
		UserRole: t.UserRole,
	}
}

func trimText(s string) string {
	return strings.TrimSpace(s)
}

func errorText(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
