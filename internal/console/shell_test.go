package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/widget"
)

type fakeController struct {
	calls []string
	form  url.Values
	sent  []string
	state widget.State
	err   error
}

func (f *fakeController) Open(context.Context) error {
	f.calls = append(f.calls, "open")
	return f.err
}

func (f *fakeController) Close() { f.calls = append(f.calls, "close") }

func (f *fakeController) CreateTicket(_ context.Context, form url.Values) (*session.Ticket, error) {
	f.calls = append(f.calls, "create")
	f.form = form
	if f.err != nil {
		return nil, f.err
	}
	return &session.Ticket{ID: "T1", HumanID: "HD-1"}, nil
}

func (f *fakeController) SendMessage(_ context.Context, text string) error {
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, text)
	return f.err
}

func (f *fakeController) NewTicket() error {
	f.calls = append(f.calls, "reset")
	return f.err
}

func (f *fakeController) Snapshot() widget.State { return f.state }

func TestShell_Execute(t *testing.T) {
	tests := []struct {
		line      string
		wantCalls string
	}{
		{"", "[]"},
		{"   ", "[]"},
		{"hello there", "[send]"},
		{"/open", "[open]"},
		{"/close", "[close]"},
		{"/OPEN", "[open]"},
		{"/reset", "[reset]"},
		{"/status", "[]"},
		{"/help", "[]"},
		{"/bogus", "[]"},
		{`/new "VPN broken" "since this morning"`, "[create]"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctrl := &fakeController{}
			var out bytes.Buffer
			if err := NewShell(ctrl, &out).Execute(context.Background(), tt.line); err != nil {
				t.Fatalf("Execute(%q) failed: %v", tt.line, err)
			}
			if got := fmt.Sprint(ctrl.calls); got != tt.wantCalls {
				t.Errorf("calls = %s, want %s", got, tt.wantCalls)
			}
		})
	}
}

func TestShell_Quit(t *testing.T) {
	for _, line := range []string{"/quit", "/exit", "/q"} {
		err := NewShell(&fakeController{}, &bytes.Buffer{}).Execute(context.Background(), line)
		if !errors.Is(err, errQuit) {
			t.Errorf("Execute(%q) = %v, want errQuit", line, err)
		}
	}
}

func TestShell_ErrorsPropagate(t *testing.T) {
	ctrl := &fakeController{err: widget.ErrNoActiveTicket}
	err := NewShell(ctrl, &bytes.Buffer{}).Execute(context.Background(), "hi")
	if !errors.Is(err, widget.ErrNoActiveTicket) {
		t.Errorf("Execute = %v, want ErrNoActiveTicket", err)
	}
}

func TestShell_UnbalancedQuotes(t *testing.T) {
	ctrl := &fakeController{}
	err := NewShell(ctrl, &bytes.Buffer{}).Execute(context.Background(), `/new "unterminated`)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("calls = %v, want none", ctrl.calls)
	}
}

func TestTicketForm(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    url.Values
		wantErr bool
	}{
		{
			name: "subject and description",
			args: []string{"VPN broken", "since this morning"},
			want: url.Values{"subject": {"VPN broken"}, "description": {"since this morning"}},
		},
		{
			name: "extra fields",
			args: []string{"Printer", "category=hardware", "priority=high"},
			want: url.Values{"subject": {"Printer"}, "category": {"hardware"}, "priority": {"high"}},
		},
		{
			name: "subject as field",
			args: []string{"subject=Laptop"},
			want: url.Values{"subject": {"Laptop"}},
		},
		{name: "missing subject", args: nil, wantErr: true},
		{name: "too many positional", args: []string{"a", "b", "c"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TicketForm(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TicketForm error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Encode() != tt.want.Encode() {
				t.Errorf("form = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	st := widget.State{
		Session: session.Session{
			ActiveTicket:      &session.Ticket{ID: "T1", HumanID: "HD-1", Status: "open"},
			LastSeenMessageID: "m3",
			UserRole:          "employee",
		},
		Transcript:       []client.Message{{ID: "m3"}},
		IndicatorVisible: true,
	}
	got := FormatStatus(st)
	for _, want := range []string{"Ticket HD-1", "Status:    open", "Last seen: m3", "Messages:  1", "Unread:    true", "Role:      employee"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}

	if got := FormatStatus(widget.State{}); !strings.HasPrefix(got, "No active ticket.") {
		t.Errorf("empty status = %q", got)
	}
}

func TestShell_TranscriptSaved(t *testing.T) {
	ctrl := &fakeController{state: widget.State{
		Session:    session.Session{ActiveTicket: &session.Ticket{ID: "T1", HumanID: "HD-1"}},
		Transcript: []client.Message{{ID: "m1", Text: "hello **world**", Sender: client.SenderUser}},
	}}
	path := filepath.Join(t.TempDir(), "chat.html")

	var out bytes.Buffer
	if err := NewShell(ctrl, &out).Execute(context.Background(), "/transcript "+path); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(data), "<strong>world</strong>") {
		t.Errorf("transcript not rendered as HTML: %s", data)
	}

	out.Reset()
	if err := NewShell(ctrl, &out).Execute(context.Background(), "/transcript"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out.String(), "You: hello **world**") {
		t.Errorf("printed transcript = %q", out.String())
	}
}

func TestMatchCommands(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"/", "[/open /close /new /status /transcript /reset /help /quit /exit]"},
		{"/o", "[/open]"},
		{"/c", "[/close]"},
		{"/re", "[/reset]"},
		{"/xyz", "[]"},
	}
	for _, tt := range tests {
		if got := fmt.Sprint(matchCommands(tt.prefix)); got != tt.want {
			t.Errorf("matchCommands(%q) = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestSlashCommandsHaveDescriptions(t *testing.T) {
	for _, cmd := range slashCommands {
		if cmd.description == "" {
			t.Errorf("command %s has empty description", cmd.name)
		}
	}
}
