// Package console renders the support chat in a terminal and reads user
// input from a readline shell.
package console

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/microcosm-cc/bluemonday"
	"github.com/muesli/termenv"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/transcript"
)

type styles struct {
	user    lipgloss.Style
	bot     lipgloss.Style
	support lipgloss.Style
	time    lipgloss.Style
	badge   lipgloss.Style
	info    lipgloss.Style
	notice  lipgloss.Style
	closing lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		bot:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("141")),
		support: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		time:    r.NewStyle().Foreground(lipgloss.Color("244")),
		badge:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")).Padding(0, 1),
		info:    r.NewStyle().Foreground(lipgloss.Color("250")).Italic(true),
		notice:  r.NewStyle().Foreground(lipgloss.Color("214")),
		closing: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// View draws the chat surface as lines appended to a writer. It implements
// widget.View. Server text is reduced to plain text before printing.
type View struct {
	mu     sync.Mutex
	out    io.Writer
	st     styles
	strict *bluemonday.Policy

	open      bool
	badge     bool
	input     bool
	composing bool
}

// ViewOption configures a View.
type ViewOption func(*lipgloss.Renderer)

// WithoutColor disables styling regardless of the terminal.
func WithoutColor() ViewOption {
	return func(r *lipgloss.Renderer) {
		r.SetColorProfile(termenv.Ascii)
	}
}

// NewView creates a View writing to out. Colors follow the capabilities of
// out, so a plain buffer receives unstyled text.
func NewView(out io.Writer, opts ...ViewOption) *View {
	r := lipgloss.NewRenderer(out)
	for _, opt := range opts {
		opt(r)
	}
	return &View{
		out:    out,
		st:     newStyles(r),
		strict: bluemonday.StrictPolicy(),
		input:  true,
	}
}

func (v *View) println(s string) {
	fmt.Fprintln(v.out, s)
}

// plain strips any markup from server supplied text.
func (v *View) plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(v.strict.Sanitize(s)))
}

func (v *View) ShowBadge() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.badge = true
	v.println(v.st.badge.Render("new messages") + " " + v.st.muted.Render("use /open to read them"))
}

func (v *View) HideBadge() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.badge = false
}

func (v *View) SetSurfaceOpen(open bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.open == open {
		return
	}
	v.open = open
	if open {
		v.println(v.st.muted.Render("── chat opened ──"))
	} else {
		v.println(v.st.muted.Render("── chat closed ──"))
	}
}

func (v *View) ShowTranscript(msgs []client.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		v.println(v.messageLine(m))
	}
}

func (v *View) AppendMessage(msg client.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(v.messageLine(msg))
}

// ScrollToEnd is a no-op: output is already at the end.
func (v *View) ScrollToEnd() {}

func (v *View) ShowComposing() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.composing {
		return
	}
	v.composing = true
	v.println(v.st.muted.Render("Assistant is typing…"))
}

func (v *View) HideComposing() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.composing = false
}

func (v *View) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.input = enabled
}

func (v *View) ShowTicketInfo(t session.Ticket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	line := transcript.Document{Ticket: t}.Title()
	if t.Status != "" {
		line += " · " + v.plain(t.Status)
	}
	v.println(v.st.info.Render(line))
}

func (v *View) ShowEmptyState() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(v.st.info.Render(`No active ticket. Start one with /new "subject" "description".`))
}

func (v *View) ShowClosingNotice(t session.Ticket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(v.st.closing.Render(transcript.Document{Ticket: t}.Title() + " has been resolved. Use /reset to open a new one."))
}

func (v *View) ShowNotice(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.println(v.st.notice.Render("! " + text))
}

// DismissNotice is a no-op: printed notices scroll away on their own.
func (v *View) DismissNotice() {}

// InputEnabled reports whether the conversation accepts new messages.
func (v *View) InputEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.input
}

// BadgeVisible reports whether the unread badge is currently shown.
func (v *View) BadgeVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.badge
}

func (v *View) messageLine(m client.Message) string {
	var label lipgloss.Style
	switch m.Sender {
	case client.SenderUser:
		label = v.st.user
	case client.SenderBot:
		label = v.st.bot
	default:
		label = v.st.support
	}
	var b strings.Builder
	if m.Time != "" {
		b.WriteString(v.st.time.Render("[" + m.Time + "]"))
		b.WriteByte(' ')
	}
	b.WriteString(label.Render(transcript.SenderLabel(m.Sender) + ":"))
	b.WriteByte(' ')
	b.WriteString(v.plain(m.Text))
	return b.String()
}
