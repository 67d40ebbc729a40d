package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/tripadmin/internal/breaker"
	"github.com/geocoder89/tripadmin/internal/domain/user"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Message
	fn   func(msg Message) error
}

func (f *fakeNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if f.fn != nil {
		if err := f.fn(msg); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return "id-" + msg.UserID, nil
}

func TestTemplateEligibility(t *testing.T) {
	tests := []struct {
		key  TemplateKey
		rec  user.Record
		want bool
	}{
		{key: WelcomeSignup, rec: user.Record{CreatedAt: daysAgo(0)}, want: true},
		{key: WelcomeSignup, rec: user.Record{CreatedAt: daysAgo(5)}, want: false},
		{key: WelcomeSignup, rec: user.Record{}, want: false},
		{key: ProfileReminder, rec: user.Record{CreatedAt: daysAgo(3)}, want: true},
		{key: ProfileReminder, rec: user.Record{CreatedAt: daysAgo(3), ProfileComplete: true}, want: false},
		{key: ProfileReminder, rec: user.Record{CreatedAt: daysAgo(2)}, want: false},
		{key: ProfileReminder, rec: user.Record{CreatedAt: daysAgo(20)}, want: false},
		{key: DeletionWarning, rec: user.Record{CreatedAt: daysAgo(14)}, want: true},
		{key: DeletionWarning, rec: user.Record{CreatedAt: daysAgo(14), TripID: "t1"}, want: false},
		{key: DeletionWarning, rec: user.Record{}, want: false},
		{key: TripUpcoming, rec: user.Record{TripID: "t1"}, want: true},
		{key: TripUpcoming, rec: user.Record{TripID: "t1", TripCompletedAt: daysAgo(1)}, want: false},
		{key: WelcomeBack, rec: user.Record{LastActiveAt: daysAgo(31)}, want: true},
		{key: WelcomeBack, rec: user.Record{LastActiveAt: daysAgo(2)}, want: false},
		{key: WelcomeBack, rec: user.Record{}, want: false},
	}

	for _, tt := range tests {
		tmpl, err := Lookup(tt.key)
		if err != nil {
			t.Fatalf("lookup %s: %v", tt.key, err)
		}
		if got := tmpl.Eligible(tt.rec, now); got != tt.want {
			t.Fatalf("%s %+v: got %v want %v", tt.key, tt.rec, got, tt.want)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("smsBlast"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestRenderEscapesNames(t *testing.T) {
	tmpl, _ := Lookup(WelcomeSignup)
	html, err := tmpl.Render(user.Record{FirstName: "<b>Ana</b>", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<b>Ana</b>") || !strings.Contains(html, "&lt;b&gt;Ana") {
		t.Fatalf("name not escaped: %s", html)
	}
}

func TestSender_SkipsIneligibleAndTallies(t *testing.T) {
	n := &fakeNotifier{fn: func(msg Message) error {
		if msg.UserID == "bad" {
			return errors.New("mailbox full")
		}
		return nil
	}}
	s := NewSender(n, 2, nil)

	users := []user.Record{
		{UserID: "a", Email: "a@example.com", CreatedAt: daysAgo(3)},
		{UserID: "bad", Email: "bad@example.com", CreatedAt: daysAgo(4)},
		{UserID: "done", Email: "done@example.com", CreatedAt: daysAgo(4), ProfileComplete: true},
	}

	tally, err := s.Send(context.Background(), ProfileReminder, users, now, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if tally.Sent != 1 || tally.Failed != 1 || tally.Skipped != 1 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
	if len(n.sent) != 1 || n.sent[0].To != "a@example.com" || n.sent[0].Template != ProfileReminder {
		t.Fatalf("unexpected sends: %+v", n.sent)
	}
}

func TestSender_ForceIgnoresEligibility(t *testing.T) {
	n := &fakeNotifier{}
	s := NewSender(n, 1, nil)

	tally, _ := s.Send(context.Background(), WelcomeBack, []user.Record{{UserID: "a", Email: "a@example.com"}}, now, true)
	if tally.Sent != 1 || tally.Skipped != 0 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
}

func TestProtectedNotifier_OpensAfterFailures(t *testing.T) {
	calls := 0
	inner := &fakeNotifier{fn: func(Message) error {
		calls++
		return errors.New("provider down")
	}}
	p := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 2, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		_, _ = p.Send(context.Background(), Message{UserID: "a"})
	}
	if _, err := p.Send(context.Background(), Message{UserID: "a"}); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected provider to be called twice, got %d", calls)
	}
}

func TestLogNotifier(t *testing.T) {
	id, err := NewLogNotifier(nil).Send(context.Background(), Message{UserID: "a", To: "a@example.com"})
	if err != nil || id == "" {
		t.Fatalf("got id=%q err=%v", id, err)
	}
}
