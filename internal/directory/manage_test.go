package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

const stagesBody = `{"user":{"_id":"u1","email":"u1@example.com","journeyStage":"trip_set_done","userState":"active","tripCreated":true}}`

func TestFetchStages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tripwell/admin/users/u1/stages":
			_, _ = w.Write([]byte(stagesBody))
		case "/tripwell/admin/users/broken/stages":
			_, _ = w.Write([]byte(`{"user":{"_id":"broken"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, Config{})

	st, err := c.FetchStages(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetch stages: %v", err)
	}
	if st.JourneyStage != user.JourneyTripSetDone || st.UserState != "active" || !st.Flags[user.FlagTripCreated] {
		t.Fatalf("unexpected stages: %+v", st)
	}

	if _, err := c.FetchStages(context.Background(), "zzz"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := c.FetchStages(context.Background(), "broken"); !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected undecodable user to be unavailable, got %v", err)
	}
}

func TestUpdateStage_SendsStageAndValue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tripwell/admin/users/u1/stages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Stage string `json:"stage"`
			Value string `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Stage != "userState" || body.Value != "abandoned" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"_id":"u1","email":"u1@example.com","userState":"abandoned"}`))
	}, Config{})

	st, err := c.UpdateStage(context.Background(), "u1", user.FieldUserState, "abandoned")
	if err != nil || st.UserState != "abandoned" {
		t.Fatalf("got %+v err=%v", st, err)
	}
}

func TestUpdateStage_RejectsBeforeCallingDirectory(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, Config{})

	tests := []struct {
		name  string
		field user.StageField
		value string
		want  error
	}{
		{"journey stage", user.FieldJourneyStage, "done", user.ErrUnknownJourneyStage},
		{"user state", user.FieldUserState, "gone", user.ErrUnknownUserState},
		{"field", "funnelStage", "new_user", user.ErrUnknownStageField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.UpdateStage(context.Background(), "u1", tt.field, tt.value); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := c.UpdateFlag(context.Background(), "u1", "isVip", true); !errors.Is(err, user.ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
	if _, err := c.ResetStage(context.Background(), "u1", "done"); !errors.Is(err, user.ErrUnknownJourneyStage) {
		t.Fatalf("expected ErrUnknownJourneyStage, got %v", err)
	}
	if _, err := c.ResetJourney(context.Background(), "u1", user.JourneyNewUser, "gone"); !errors.Is(err, user.ErrUnknownUserState) {
		t.Fatalf("expected ErrUnknownUserState, got %v", err)
	}
	if _, err := c.CleanupDuplicateTrips(context.Background(), "u1", "  "); !errors.Is(err, ErrKeepTripRequired) {
		t.Fatalf("expected ErrKeepTripRequired, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("expected no directory calls, got %d", n)
	}
}

func TestUpdateFlag_ReadsBackWhenAnswerIsNotAUser(t *testing.T) {
	var gets atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/tripwell/admin/users/u1/flags":
			var body struct {
				Flag  string `json:"flag"`
				Value bool   `json:"value"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Flag != "emailVerified" || !body.Value {
				t.Errorf("unexpected body %+v", body)
			}
			_, _ = w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/tripwell/admin/users/u1/stages":
			gets.Add(1)
			_, _ = w.Write([]byte(`{"_id":"u1","email":"u1@example.com","flags":{"emailVerified":true}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}, Config{})

	st, err := c.UpdateFlag(context.Background(), "u1", user.FlagEmailVerified, true)
	if err != nil {
		t.Fatalf("update flag: %v", err)
	}
	if !st.Flags[user.FlagEmailVerified] || gets.Load() != 1 {
		t.Fatalf("expected stages to be read back once, got %+v after %d reads", st, gets.Load())
	}
}

func TestResetStage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tripwell/admin/users/u1/stages/trip_set_done/reset" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"_id":"u1","email":"u1@example.com","journeyStage":"profile_complete"}`))
	}, Config{})

	st, err := c.ResetStage(context.Background(), "u1", user.JourneyTripSetDone)
	if err != nil || st.JourneyStage != user.JourneyProfileComplete {
		t.Fatalf("got %+v err=%v", st, err)
	}
}

func TestManage_UpstreamFailureCarriesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"mongo timeout"}`))
	}, Config{})

	_, err := c.ResetStage(context.Background(), "u1", user.JourneyNewUser)
	var uErr *UnavailableError
	if !errors.As(err, &uErr) || uErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected UnavailableError with status, got %v", err)
	}
	if !strings.Contains(err.Error(), "mongo timeout") || uErr.Op != "reset_stage" {
		t.Fatalf("unexpected error detail: %v", err)
	}
}

func TestFetchAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tripwell/admin/user/u1":
			_, _ = w.Write([]byte(`{
				"user":{"_id":"u1","email":"u1@example.com","tripId":"t1"},
				"trips":[
					{"_id":"t0","createdAt":"2026-01-01T00:00:00Z"},
					{"_id":"t1","createdAt":"2026-03-01T00:00:00Z"}
				]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, Config{})

	acct, err := c.FetchAccount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetch account: %v", err)
	}
	if len(acct.Trips) != 2 || acct.SuggestedKeep() != "t1" || !acct.Trips[0].Current {
		t.Fatalf("unexpected account: %+v", acct)
	}

	if _, err := c.FetchAccount(context.Background(), "zzz"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCleanupDuplicateTrips(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tripwell/admin/user/u1/cleanup-duplicates" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			KeepTripID string `json:"keepTripId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.KeepTripID != "t1" {
			t.Errorf("unexpected keepTripId %q", body.KeepTripID)
		}
		_, _ = w.Write([]byte(`{"success":true,"tripsRemoved":2}`))
	}, Config{})

	res, err := c.CleanupDuplicateTrips(context.Background(), "u1", " t1 ")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.TripsRemoved != 2 || res.KeptTripID != "t1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResetJourney(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tripwell/admin/user/u1/reset-journey" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["journeyStage"] != "new_user" || body["userState"] != "demo_only" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"user":{"_id":"u1","email":"u1@example.com","journeyStage":"new_user","userState":"demo_only"}}`))
	}, Config{})

	st, err := c.ResetJourney(context.Background(), "u1", user.JourneyNewUser, user.StateDemoOnly)
	if err != nil {
		t.Fatalf("reset journey: %v", err)
	}
	if st.JourneyStage != user.JourneyNewUser || st.UserState != "demo_only" {
		t.Fatalf("unexpected stages: %+v", st)
	}
}
