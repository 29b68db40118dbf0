package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/shlex"
	"github.com/reeflective/readline"

	"github.com/inercia/helpdesk/internal/fileutil"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/transcript"
	"github.com/inercia/helpdesk/internal/widget"
)

var _ widget.View = (*View)(nil)

// Controller is what the shell drives.
type Controller interface {
	Open(ctx context.Context) error
	Close()
	CreateTicket(ctx context.Context, form url.Values) (*session.Ticket, error)
	SendMessage(ctx context.Context, text string) error
	NewTicket() error
	Snapshot() widget.State
}

// errQuit is returned by Execute when the user asks to leave.
var errQuit = errors.New("quit")

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/open", "Open the chat and read new messages"},
	{"/close", "Close the chat"},
	{"/new", "Create a ticket: /new \"subject\" \"description\" [field=value...]"},
	{"/status", "Show the current ticket and unread state"},
	{"/transcript", "Print the transcript, or save it: /transcript [path]"},
	{"/reset", "Forget the current ticket"},
	{"/help", "Show available commands"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
}

// Shell reads lines from a readline prompt and dispatches them to a
// controller. Lines starting with "/" are commands, everything else is sent
// as a chat message.
type Shell struct {
	ctrl     Controller
	out      io.Writer
	exporter *transcript.Exporter
}

// NewShell creates a shell printing command output to out.
func NewShell(ctrl Controller, out io.Writer) *Shell {
	return &Shell{
		ctrl:     ctrl,
		out:      out,
		exporter: transcript.New(),
	}
}

// Run reads input until EOF, interrupt, /quit or ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "helpdesk> " })
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Fprintln(s.out, "Type a message and press Enter. Use /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			return err
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Execute handles one input line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.ctrl.SendMessage(ctx, line)
	}

	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "/open":
		return s.ctrl.Open(ctx)
	case "/close":
		s.ctrl.Close()
	case "/new":
		return s.newTicket(ctx, args[1:])
	case "/status":
		s.printStatus()
	case "/transcript":
		return s.transcript(args[1:])
	case "/reset":
		if err := s.ctrl.NewTicket(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Ticket forgotten.")
	case "/help", "/h", "/?":
		s.printHelp()
	case "/quit", "/exit", "/q":
		return errQuit
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (use /help for available commands)\n", args[0])
	}
	return nil
}

func (s *Shell) newTicket(ctx context.Context, args []string) error {
	form, err := TicketForm(args)
	if err != nil {
		return err
	}
	t, err := s.ctrl.CreateTicket(ctx, form)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Created %s.\n", transcript.Document{Ticket: *t}.Title())
	return nil
}

// TicketForm builds the creation form from positional subject and
// description arguments followed by optional field=value pairs.
func TicketForm(args []string) (url.Values, error) {
	form := url.Values{}
	var positional []string
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok && k != "" && !strings.ContainsAny(k, " \t") {
			form.Add(k, v)
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) > 2 {
		return nil, fmt.Errorf("too many arguments: quote the subject and description")
	}
	if len(positional) > 0 {
		form.Set("subject", positional[0])
	}
	if len(positional) > 1 {
		form.Set("description", positional[1])
	}
	if strings.TrimSpace(form.Get("subject")) == "" {
		return nil, fmt.Errorf("a subject is required")
	}
	return form, nil
}

func (s *Shell) printStatus() {
	fmt.Fprint(s.out, FormatStatus(s.ctrl.Snapshot()))
}

// FormatStatus renders a controller state as a short report.
func FormatStatus(st widget.State) string {
	var b strings.Builder
	if !st.Session.HasTicket() {
		b.WriteString("No active ticket.\n")
	} else {
		t := st.Session.ActiveTicket
		fmt.Fprintf(&b, "Ticket:    %s\n", transcript.Document{Ticket: *t}.Title())
		if t.Status != "" {
			fmt.Fprintf(&b, "Status:    %s\n", t.Status)
		}
		if st.Session.LastSeenMessageID != "" {
			fmt.Fprintf(&b, "Last seen: %s\n", st.Session.LastSeenMessageID)
		}
		fmt.Fprintf(&b, "Messages:  %d\n", len(st.Transcript))
	}
	fmt.Fprintf(&b, "Unread:    %t\n", st.IndicatorVisible)
	fmt.Fprintf(&b, "Chat open: %t\n", st.Session.SurfaceOpen)
	if st.Locked {
		b.WriteString("Resolved:  true\n")
	}
	if st.Session.UserRole != "" {
		fmt.Fprintf(&b, "Role:      %s\n", st.Session.UserRole)
	}
	return b.String()
}

func (s *Shell) transcript(args []string) error {
	st := s.ctrl.Snapshot()
	doc := transcript.Document{Messages: st.Transcript}
	if st.Session.ActiveTicket != nil {
		doc.Ticket = *st.Session.ActiveTicket
	}

	if len(args) == 0 {
		return s.exporter.Write(s.out, doc, transcript.FormatText)
	}

	path := args[0]
	var buf bytes.Buffer
	if err := s.exporter.Write(&buf, doc, transcript.FormatForPath(path)); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	fmt.Fprintf(s.out, "Transcript saved to %s\n", path)
	return nil
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, "\nAvailable commands:")
	for _, c := range slashCommands {
		fmt.Fprintf(s.out, "  %-12s - %s\n", c.name, c.description)
	}
	fmt.Fprintln(s.out, `
Tips:
  - Type your message and press Enter to send it to support
  - Use Ctrl+C to exit
  - Use Tab to autocomplete slash commands`)
}

// matchCommands returns the slash commands starting with prefix.
func matchCommands(prefix string) []string {
	var matches []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, prefix) {
			matches = append(matches, cmd.name)
		}
	}
	return matches
}

// completeInput completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return readline.Completions{}
	}

	matches := matchCommands(text)
	if len(matches) == 0 {
		return readline.Completions{}
	}

	descriptions := make(map[string]string, len(slashCommands))
	for _, cmd := range slashCommands {
		descriptions[cmd.name] = cmd.description
	}
	pairs := make([]string, 0, len(matches)*2)
	for _, m := range matches {
		pairs = append(pairs, m, descriptions[m])
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
