package console

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/tripadmin/internal/analysis"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/lifecycle"
	"github.com/geocoder89/tripadmin/internal/messaging"
)

var (
	ErrAnalysisDisabled  = errors.New("analysis not configured")
	ErrMessagingDisabled = errors.New("messaging not configured")
)

// UserRow is one classified user as the dashboards show it.
type UserRow struct {
	user.Record
	DisplayName string               `json:"displayName"`
	TripStatus  lifecycle.TripStatus `json:"tripStatus"`
	Age         lifecycle.Age        `json:"age"`
	Safety      lifecycle.Safety     `json:"safety"`
}

func (s *Service) row(u user.Record, now time.Time) UserRow {
	return UserRow{
		Record:      u,
		DisplayName: u.DisplayName(),
		TripStatus:  lifecycle.TripStatusOf(u),
		Age:         lifecycle.AgeOf(u, now),
		Safety:      s.policy.Evaluate(u, now),
	}
}

type Filter struct {
	Search   string
	Role     user.Role
	Label    lifecycle.Label
	SafeOnly bool
}

func (f Filter) match(r UserRow) bool {
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if f.Label != "" && r.Safety.Label != f.Label {
		return false
	}
	if f.SafeOnly && !r.Safety.SafeToDelete {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		hay := strings.ToLower(r.Email + " " + r.DisplayName + " " + r.UserID)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

type Overview struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Policy    string    `json:"policy"`
	Total     int       `json:"total"`
	Deletable int       `json:"deletable"`
	Users     []UserRow `json:"users"`
}

// Overview classifies the cached snapshot. Total and Deletable describe the whole snapshot;
// Users holds only the rows matching f.
func (s *Service) Overview(ctx context.Context, f Filter) (Overview, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return Overview{}, err
	}

	now := s.now()
	out := Overview{
		FetchedAt: snap.FetchedAt,
		Policy:    s.policy.Name(),
		Total:     len(snap.Users),
		Users:     make([]UserRow, 0, len(snap.Users)),
	}
	for _, u := range snap.Users {
		r := s.row(u, now)
		if r.Safety.SafeToDelete {
			out.Deletable++
		}
		if f.match(r) {
			out.Users = append(out.Users, r)
		}
	}
	return out, nil
}

// User looks the id up in the snapshot and falls back to the directory.
func (s *Service) User(ctx context.Context, userID string) (UserRow, error) {
	u, err := s.lookup(ctx, userID)
	if err != nil {
		return UserRow{}, err
	}
	return s.row(u, s.now()), nil
}

func (s *Service) lookup(ctx context.Context, userID string) (user.Record, error) {
	if snap, err := s.store.Load(ctx); err == nil {
		for _, u := range snap.Users {
			if u.UserID == userID {
				return u, nil
			}
		}
	}

	u, err := s.dir.FetchOne(ctx, userID)
	if errors.Is(err, directory.ErrUserNotFound) {
		return user.Record{}, ErrUserNotFound
	}
	return u, err
}

type JourneyView struct {
	FetchedAt time.Time                `json:"fetchedAt"`
	Metrics   lifecycle.JourneyMetrics `json:"metrics"`
	Users     []UserRow                `json:"users"`
}

// Journey covers full-app users only.
func (s *Service) Journey(ctx context.Context) (JourneyView, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return JourneyView{}, err
	}

	now := s.now()
	full := lifecycle.FunnelPartition(snap.Users).FullAppUsers

	out := JourneyView{
		FetchedAt: snap.FetchedAt,
		Metrics:   lifecycle.Journey(full, now, s.policy, s.graceDays),
		Users:     make([]UserRow, 0, len(full)),
	}
	for _, u := range full {
		out.Users = append(out.Users, s.row(u, now))
	}
	return out, nil
}

type FunnelRow struct {
	UserRow
	Potential lifecycle.Potential `json:"conversionPotential"`
}

type FunnelView struct {
	FetchedAt time.Time             `json:"fetchedAt"`
	Stats     lifecycle.FunnelStats `json:"stats"`
	Users     []FunnelRow           `json:"users"`
}

func (s *Service) Funnel(ctx context.Context, stage user.FunnelStage) (FunnelView, error) {
	if stage != "" && (!stage.IsValid() || stage.IsFullApp()) {
		return FunnelView{}, user.ErrUnknownFunnelStage
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return FunnelView{}, err
	}

	now := s.now()
	funnel := lifecycle.FunnelPartition(snap.Users).FunnelUsers

	out := FunnelView{
		FetchedAt: snap.FetchedAt,
		Stats:     lifecycle.FunnelConversionStats(funnel),
		Users:     make([]FunnelRow, 0, len(funnel)),
	}
	for _, u := range funnel {
		if stage != "" && u.FunnelStage != stage {
			continue
		}
		out.Users = append(out.Users, FunnelRow{UserRow: s.row(u, now), Potential: lifecycle.ConversionPotential(u, now)})
	}
	return out, nil
}

// UpdateFunnelStage moves users to a stage. Ids are user ids; the directory is addressed by
// each user's firebase id when the snapshot knows it.
func (s *Service) UpdateFunnelStage(ctx context.Context, userIDs []string, stage user.FunnelStage) (directory.UpdateTally, error) {
	if !stage.IsValid() {
		return directory.UpdateTally{}, user.ErrUnknownFunnelStage
	}

	remote := make(map[string]string, len(userIDs))
	if snap, err := s.store.Load(ctx); err == nil {
		for _, u := range snap.Users {
			remote[u.UserID] = u.AnalysisID()
		}
	}

	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if k, ok := remote[id]; ok {
			keys = append(keys, k)
			continue
		}
		keys = append(keys, id)
	}

	return s.dir.UpdateFunnelStages(ctx, keys, stage)
}

type AnalyzeResult struct {
	Analysis analysis.Result  `json:"analysis"`
	Safety   lifecycle.Safety `json:"safety"`
}

// Analyze asks the analysis service about one user and classifies the answer with the
// external-state policy. A returned state is also written into the cached record, so the
// auto policy picks it up on later overviews.
func (s *Service) Analyze(ctx context.Context, userID string) (AnalyzeResult, error) {
	if s.analyzer == nil {
		return AnalyzeResult{}, ErrAnalysisDisabled
	}

	u, err := s.lookup(ctx, userID)
	if err != nil {
		return AnalyzeResult{}, err
	}

	res, err := s.analyzer.Analyze(ctx, u)
	if err != nil {
		return AnalyzeResult{}, err
	}

	if res.State != nil {
		u.UserState = strings.ToLower(strings.TrimSpace(res.State.UserState))
		if u.UserState != "" {
			state := u.UserState
			s.patchCached(ctx, userID, func(r *user.Record) { r.UserState = state })
		}
	}
	return AnalyzeResult{Analysis: res, Safety: lifecycle.StatePolicy{}.Evaluate(u, s.now())}, nil
}

// EligibleForMessage lists cached users the template currently applies to.
func (s *Service) EligibleForMessage(ctx context.Context, key messaging.TemplateKey) ([]UserRow, error) {
	tmpl, err := messaging.Lookup(key)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligible := messaging.Eligible(tmpl, snap.Users, now)
	out := make([]UserRow, 0, len(eligible))
	for _, u := range eligible {
		out = append(out, s.row(u, now))
	}
	return out, nil
}

// Message sends a template to the given cached users, or to every cached user when ids is
// empty. Unknown ids are ignored.
func (s *Service) Message(ctx context.Context, key messaging.TemplateKey, userIDs []string, force bool) (messaging.SendTally, error) {
	if s.sender == nil {
		return messaging.SendTally{}, ErrMessagingDisabled
	}
	if _, err := messaging.Lookup(key); err != nil {
		return messaging.SendTally{}, err
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return messaging.SendTally{}, err
	}

	targets := snap.Users
	if len(userIDs) > 0 {
		want := user.IDSet(userIDs)
		targets = make([]user.Record, 0, len(want))
		for _, u := range snap.Users {
			if _, ok := want[u.UserID]; ok {
				targets = append(targets, u)
			}
		}
	}

	return s.sender.Send(ctx, key, targets, s.now(), force)
}
