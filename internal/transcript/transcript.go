// Package transcript exports a ticket conversation as plain text, markdown
// or HTML.
package transcript

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
)

// Format is an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a user supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown transcript format %q", name)
}

// FormatForPath picks a format from the file extension, defaulting to text.
func FormatForPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return FormatText
	}
	return f
}

// Document is the conversation to export.
type Document struct {
	Ticket   session.Ticket
	Messages []client.Message
}

// Title returns the heading used by every format.
func (d Document) Title() string {
	id := d.Ticket.HumanID
	if id == "" {
		id = d.Ticket.ID
	}
	if id == "" {
		return "Support conversation"
	}
	return "Ticket " + id
}

// SenderLabel returns the display name for a message sender.
func SenderLabel(sender string) string {
	switch sender {
	case client.SenderUser:
		return "You"
	case client.SenderBot:
		return "Assistant"
	case client.SenderSupport:
		return "Support"
	case "":
		return "Unknown"
	}
	return sender
}

// Exporter renders documents. Message text comes from the server and is
// never trusted: HTML output is always sanitized.
type Exporter struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithSanitizer replaces the HTML sanitization policy.
func WithSanitizer(p *bluemonday.Policy) Option {
	return func(e *Exporter) {
		e.sanitizer = p
	}
}

// New creates an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
		sanitizer: bluemonday.UGCPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Write renders doc in format f to w.
func (e *Exporter) Write(w io.Writer, doc Document, f Format) error {
	var out string
	switch f {
	case FormatText:
		out = e.Text(doc)
	case FormatMarkdown:
		out = e.Markdown(doc)
	case FormatHTML:
		var err error
		if out, err = e.HTML(doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transcript format %q", f)
	}
	_, err := io.WriteString(w, out)
	return err
}

// Text renders one line per message.
func (e *Exporter) Text(doc Document) string {
	var b strings.Builder
	b.WriteString(doc.Title())
	if doc.Ticket.Status != "" {
		fmt.Fprintf(&b, " (%s)", doc.Ticket.Status)
	}
	b.WriteString("\n\n")
	for _, m := range doc.Messages {
		b.WriteString(Line(m))
		b.WriteByte('\n')
	}
	return b.String()
}

// Line formats a single message as "[time] Sender: text".
func Line(m client.Message) string {
	var b strings.Builder
	if m.Time != "" {
		fmt.Fprintf(&b, "[%s] ", m.Time)
	}
	b.WriteString(SenderLabel(m.Sender))
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(m.Text))
	return b.String()
}

// Markdown renders the conversation as a markdown document.
func (e *Exporter) Markdown(doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title())
	if doc.Ticket.Status != "" {
		fmt.Fprintf(&b, "Status: **%s**\n\n", doc.Ticket.Status)
	}
	for _, m := range doc.Messages {
		fmt.Fprintf(&b, "**%s**", SenderLabel(m.Sender))
		if m.Time != "" {
			fmt.Fprintf(&b, " _%s_", m.Time)
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(m.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// HTML converts the markdown rendering to sanitized HTML.
func (e *Exporter) HTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(e.Markdown(doc)), &buf); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	return e.sanitizer.Sanitize(buf.String()), nil
}
