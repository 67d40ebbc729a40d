package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/tripadmin/internal/breaker"
	"github.com/geocoder89/tripadmin/internal/domain/user"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestNewRequest(t *testing.T) {
	created := now.Add(-(3*24*time.Hour + 20*time.Hour))
	rec := user.Record{
		UserID:          "u1",
		Email:           "u1@example.com",
		ProfileComplete: true,
		TripID:          "t1",
		FunnelStage:     user.StageNone,
		CreatedAt:       &created,
	}

	req := NewRequest(rec, now)
	if req.FirebaseID != "u1" {
		t.Fatalf("firebase id should fall back to user id, got %q", req.FirebaseID)
	}
	if req.Hints.DaysSinceSignup != 3 {
		t.Fatalf("days since signup should floor, got %d", req.Hints.DaysSinceSignup)
	}
	if !req.Hints.HasTrip || !req.Hints.HasProfile {
		t.Fatalf("unexpected hints: %+v", req.Hints)
	}

	if got := NewRequest(user.Record{UserID: "x"}, now).Hints.DaysSinceSignup; got != 0 {
		t.Fatalf("unknown signup should be zero, got %d", got)
	}
}

func TestAnalyze_DecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze-user" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email != "a@example.com" {
			t.Errorf("bad payload: %+v err=%v", req, err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","user_state":{"journey_stage":"onboarding","user_state":"abandoned","engagement_level":"low","trip_status":"none"},"actions_taken":[{"type":"email"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client())
	res, err := c.Analyze(context.Background(), user.Record{UserID: "a", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Success || res.State == nil || res.State.UserState != "abandoned" || len(res.ActionsTaken) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	c := New(Config{}, nil)
	if _, err := c.Analyze(context.Background(), user.Record{UserID: "a"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAnalyze_OpensCircuitOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client())
	for i := 0; i < 3; i++ {
		_, err := c.Analyze(context.Background(), user.Record{UserID: "a"})
		var uErr *UnavailableError
		if !errors.As(err, &uErr) || uErr.Status != http.StatusServiceUnavailable {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}

	_, err := c.Analyze(context.Background(), user.Record{UserID: "a"})
	if !errors.Is(err, ErrAnalysisUnavailable) || !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("open circuit should not reach the service, calls=%d", calls.Load())
	}
}

func TestAnalyze_ClientErrorsKeepCircuitClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`missing email`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client())
	for i := 0; i < 5; i++ {
		_, err := c.Analyze(context.Background(), user.Record{UserID: "a"})
		if errors.Is(err, breaker.ErrCircuitOpen) {
			t.Fatalf("4xx must not open the circuit")
		}
	}
	if calls.Load() != 5 {
		t.Fatalf("expected every call to reach the service, got %d", calls.Load())
	}
}
