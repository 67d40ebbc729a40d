package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/tripadmin/internal/auth"
	"github.com/geocoder89/tripadmin/internal/cache"
	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/http/handlers"
	"github.com/geocoder89/tripadmin/internal/observability"
	"github.com/geocoder89/tripadmin/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

type stubDirectory struct{}

func (stubDirectory) FetchAll(ctx context.Context) (directory.FetchResult, error) {
	return directory.FetchResult{Users: []user.Record{{UserID: "u1", Email: "u1@example.com", Role: user.RoleUser}}}, nil
}

func (stubDirectory) FetchOne(ctx context.Context, id string) (user.Record, error) {
	return user.Record{}, directory.ErrUserNotFound
}

func (stubDirectory) DeleteOne(ctx context.Context, id string) (directory.DeleteOutcome, error) {
	return directory.Deleted, nil
}

func (stubDirectory) DeleteMany(ctx context.Context, ids []string) (directory.DeleteTally, error) {
	return directory.DeleteTally{Succeeded: len(ids), Removed: ids}, nil
}

func (stubDirectory) UpdateFunnelStages(ctx context.Context, ids []string, stage user.FunnelStage) (directory.UpdateTally, error) {
	return directory.UpdateTally{Succeeded: len(ids), Updated: ids}, nil
}

func (stubDirectory) CleanupOrphanedData(ctx context.Context) (directory.CleanupResult, error) {
	return directory.CleanupResult{Success: true}, nil
}

func (stubDirectory) FetchStages(ctx context.Context, id string) (user.Stages, error) {
	return user.Stages{}, directory.ErrUserNotFound
}

func (stubDirectory) UpdateStage(ctx context.Context, id string, field user.StageField, value string) (user.Stages, error) {
	if err := user.ValidateStage(field, value); err != nil {
		return user.Stages{}, err
	}
	return user.Stages{User: user.Record{UserID: id}, UserState: value}, nil
}

func (stubDirectory) UpdateFlag(ctx context.Context, id string, flag user.Flag, value bool) (user.Stages, error) {
	return user.Stages{User: user.Record{UserID: id}, Flags: map[user.Flag]bool{flag: value}}, nil
}

func (stubDirectory) ResetStage(ctx context.Context, id string, stage user.JourneyStage) (user.Stages, error) {
	return user.Stages{User: user.Record{UserID: id}, JourneyStage: stage}, nil
}

func (stubDirectory) FetchAccount(ctx context.Context, id string) (user.Account, error) {
	return user.Account{User: user.Record{UserID: id}}, nil
}

func (stubDirectory) CleanupDuplicateTrips(ctx context.Context, id, keep string) (directory.TripCleanup, error) {
	return directory.TripCleanup{KeptTripID: keep}, nil
}

func (stubDirectory) ResetJourney(ctx context.Context, id string, stage user.JourneyStage, state user.State) (user.Stages, error) {
	return user.Stages{User: user.Record{UserID: id}, JourneyStage: stage, UserState: string(state)}, nil
}

func newTestRouter(t *testing.T, checks map[string]handlers.Check) nethttp.Handler {
	t.Helper()

	hash, err := security.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	jwt := auth.NewManager("test-secret", time.Minute)
	reg := prometheus.NewRegistry()

	return NewRouter(Deps{
		Env:         "test",
		Console:     console.NewService(stubDirectory{}, cache.NewMemoryStore(), console.Config{}),
		Credentials: security.AdminCredentials{Username: "ops", PasswordHash: hash},
		Tokens:      &TokenAuth{Issuer: jwt, Verifier: jwt},
		Prom:        observability.NewProm(reg),
		Gatherer:    reg,
		Checks:      checks,
		LoginLimit:  3,
	})
}

func send(h nethttp.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h nethttp.Handler) string {
	t.Helper()

	w := send(h, nethttp.MethodPost, "/admin/login", `{"username":"ops","password":"correct horse"}`, "")
	if w.Code != nethttp.StatusOK {
		t.Fatalf("login: got %d body=%s", w.Code, w.Body.String())
	}

	var resp handlers.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("login response: %s", w.Body.String())
	}
	return resp.AccessToken
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	h := newTestRouter(t, nil)

	if w := send(h, nethttp.MethodGet, "/admin/users", "", ""); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := send(h, nethttp.MethodPost, "/admin/login", `{"username":"ops","password":"wrong"}`, ""); w.Code != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", w.Code)
	}
}

func TestRouter_HydrateThenList(t *testing.T) {
	h := newTestRouter(t, nil)
	token := login(t, h)

	if w := send(h, nethttp.MethodGet, "/admin/users", "", token); w.Code != nethttp.StatusConflict {
		t.Fatalf("expected 409 before hydrate, got %d body=%s", w.Code, w.Body.String())
	}

	if w := send(h, nethttp.MethodPost, "/admin/users/hydrate", "", token); w.Code != nethttp.StatusOK {
		t.Fatalf("hydrate: got %d body=%s", w.Code, w.Body.String())
	}

	w := send(h, nethttp.MethodGet, "/admin/users", "", token)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("list: got %d body=%s", w.Code, w.Body.String())
	}

	var ov console.Overview
	if err := json.Unmarshal(w.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if ov.Total != 1 || len(ov.Users) != 1 || ov.Users[0].UserID != "u1" {
		t.Fatalf("unexpected overview: %+v", ov)
	}

	if w := send(h, nethttp.MethodDelete, "/admin/users/u1", "", token); w.Code != nethttp.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
	w = send(h, nethttp.MethodGet, "/admin/users", "", token)
	_ = json.Unmarshal(w.Body.Bytes(), &ov)
	if ov.Total != 0 {
		t.Fatalf("deleted user still listed: %+v", ov)
	}
}

func TestRouter_StateChangeReachesOverview(t *testing.T) {
	h := newTestRouter(t, nil)
	token := login(t, h)

	if w := send(h, nethttp.MethodPost, "/admin/users/hydrate", "", token); w.Code != nethttp.StatusOK {
		t.Fatalf("hydrate: got %d body=%s", w.Code, w.Body.String())
	}

	w := send(h, nethttp.MethodPut, "/admin/users/u1/stages", `{"stage":"userState","value":"abandoned"}`, token)
	if w.Code != nethttp.StatusOK {
		t.Fatalf("update stage: got %d body=%s", w.Code, w.Body.String())
	}

	w = send(h, nethttp.MethodGet, "/admin/users", "", token)
	var ov console.Overview
	if err := json.Unmarshal(w.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if len(ov.Users) != 1 || ov.Users[0].UserState != "abandoned" || !ov.Users[0].Safety.SafeToDelete {
		t.Fatalf("state change not reflected: %s", w.Body.String())
	}

	if w := send(h, nethttp.MethodGet, "/admin/users/u1/stages", "", token); w.Code != nethttp.StatusNotFound {
		t.Fatalf("stages of unknown user: got %d", w.Code)
	}
	if w := send(h, nethttp.MethodPost, "/admin/users/u1/stages/new_user/reset", "", token); w.Code != nethttp.StatusOK {
		t.Fatalf("reset stage: got %d body=%s", w.Code, w.Body.String())
	}
	if w := send(h, nethttp.MethodGet, "/admin/user/u1", "", token); w.Code != nethttp.StatusOK {
		t.Fatalf("account: got %d body=%s", w.Code, w.Body.String())
	}
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	h := newTestRouter(t, nil)

	var last int
	for i := 0; i < 4; i++ {
		last = send(h, nethttp.MethodPost, "/admin/login", `{"username":"ops","password":"wrong"}`, "").Code
	}
	if last != nethttp.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit, got %d", last)
	}
}

func TestRouter_ReadyzAndMetrics(t *testing.T) {
	h := newTestRouter(t, map[string]handlers.Check{
		"cache": func(ctx context.Context) error { return errors.New("down") },
	})

	if w := send(h, nethttp.MethodGet, "/healthz", "", ""); w.Code != nethttp.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}
	if w := send(h, nethttp.MethodGet, "/readyz", "", ""); w.Code != nethttp.StatusServiceUnavailable {
		t.Fatalf("readyz: got %d", w.Code)
	}

	w := send(h, nethttp.MethodGet, "/metrics", "", "")
	if w.Code != nethttp.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("tripadmin_http_requests_total")) {
		t.Fatalf("metrics missing request counter: %d", w.Code)
	}
}
