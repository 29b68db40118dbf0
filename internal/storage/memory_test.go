package storage

import (
	"errors"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestMemoryStorage_SharedData(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	defer a.Close()
	defer b.Close()

	if err := a.Set("active_ticket", `{"ticket_id":"T"}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := b.Get("active_ticket")
	if err != nil || !ok {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if v != `{"ticket_id":"T"}` {
		t.Errorf("Get = %q", v)
	}
}

func TestMemoryStorage_EventsSkipWriter(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	c := origin.Open()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var ra, rb, rc recorder
	a.Subscribe(ra.record)
	b.Subscribe(rb.record)
	c.Subscribe(rc.record)

	if err := a.Set("unread_indicator", "true"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	a.Wait()
	b.Wait()
	c.Wait()

	if got := ra.all(); len(got) != 0 {
		t.Errorf("writer received its own event: %+v", got)
	}
	for name, r := range map[string]*recorder{"b": &rb, "c": &rc} {
		got := r.all()
		if len(got) != 1 {
			t.Fatalf("%s: got %d events, want 1", name, len(got))
		}
		if got[0].Key != "unread_indicator" || got[0].NewValue != "true" || got[0].Removed {
			t.Errorf("%s: event = %+v", name, got[0])
		}
	}
}

func TestMemoryStorage_SameValueNotAnnounced(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.Subscribe(rb.record)

	_ = a.Set("user_role", "employee")
	_ = a.Set("user_role", "employee")
	b.Wait()

	if got := rb.all(); len(got) != 1 {
		t.Errorf("got %d events, want 1", len(got))
	}
}

func TestMemoryStorage_Remove(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.Subscribe(rb.record)

	_ = a.Set("last_seen", "x")
	if err := a.Remove("last_seen"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := a.Remove("last_seen"); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	b.Wait()

	got := rb.all()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if !got[1].Removed || got[1].OldValue != "x" {
		t.Errorf("remove event = %+v", got[1])
	}
	if _, ok, _ := b.Get("last_seen"); ok {
		t.Error("key still present after Remove")
	}
}

func TestMemoryStorage_EventOrder(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.Subscribe(rb.record)

	values := []string{"1", "2", "3", "4", "5"}
	for _, v := range values {
		_ = a.Set("k", v)
	}
	b.Wait()

	got := rb.all()
	if len(got) != len(values) {
		t.Fatalf("got %d events, want %d", len(got), len(values))
	}
	for i, ev := range got {
		if ev.NewValue != values[i] {
			t.Errorf("event %d = %q, want %q", i, ev.NewValue, values[i])
		}
	}
}

func TestMemoryStorage_CancelSubscription(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	b := origin.Open()
	defer a.Close()
	defer b.Close()

	var rb recorder
	cancel := b.Subscribe(rb.record)
	cancel()
	cancel()

	_ = a.Set("k", "v")
	b.Wait()

	if got := rb.all(); len(got) != 0 {
		t.Errorf("cancelled subscriber received %d events", len(got))
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	origin := NewOrigin()
	a := origin.Open()
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := a.Set("k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
	if _, _, err := a.Get("k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"active_ticket", true},
		{"last-seen.v2", true},
		{"", false},
		{".hidden", false},
		{"key.tmp", false},
		{"a/b", false},
		{"a b", false},
		{"..", false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateKey(%q) = %v, valid=%v", tt.key, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) error does not wrap ErrInvalidKey", tt.key)
		}
	}
}
