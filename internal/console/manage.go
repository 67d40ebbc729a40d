package console

import (
	"context"
	"errors"

	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
)

// Per-user management. Every call goes to the directory; fields the dashboard classifies on
// (userState, profileComplete) are then copied into the cached record.

func (s *Service) Stages(ctx context.Context, userID string) (user.Stages, error) {
	st, err := s.dir.FetchStages(ctx, userID)
	return st, notFound(err)
}

func (s *Service) UpdateStage(ctx context.Context, userID string, field user.StageField, value string) (user.Stages, error) {
	st, err := s.dir.UpdateStage(ctx, userID, field, value)
	if err != nil {
		return user.Stages{}, notFound(err)
	}
	if field == user.FieldUserState {
		s.patchCached(ctx, userID, func(r *user.Record) { r.UserState = value })
	}
	return st, nil
}

func (s *Service) UpdateFlag(ctx context.Context, userID string, flag user.Flag, value bool) (user.Stages, error) {
	st, err := s.dir.UpdateFlag(ctx, userID, flag, value)
	if err != nil {
		return user.Stages{}, notFound(err)
	}
	if flag == user.FlagProfileComplete {
		s.patchCached(ctx, userID, func(r *user.Record) { r.ProfileComplete = value })
	}
	return st, nil
}

func (s *Service) ResetStage(ctx context.Context, userID string, stage user.JourneyStage) (user.Stages, error) {
	st, err := s.dir.ResetStage(ctx, userID, stage)
	if err != nil {
		return user.Stages{}, notFound(err)
	}
	s.patchCached(ctx, userID, func(r *user.Record) {
		r.UserState = st.UserState
		r.ProfileComplete = st.Flags[user.FlagProfileComplete]
	})
	return st, nil
}

type AccountView struct {
	user.Account
	HasDuplicates bool   `json:"hasDuplicates"`
	SuggestedKeep string `json:"suggestedKeepTripId,omitempty"`
}

// Account reads the user with every trip they own and flags duplicate trips.
func (s *Service) Account(ctx context.Context, userID string) (AccountView, error) {
	acct, err := s.dir.FetchAccount(ctx, userID)
	if err != nil {
		return AccountView{}, notFound(err)
	}
	view := AccountView{Account: acct, HasDuplicates: acct.HasDuplicateTrips()}
	if view.HasDuplicates {
		view.SuggestedKeep = acct.SuggestedKeep()
	}
	return view, nil
}

// CleanupDuplicateTrips keeps one trip and has the directory delete the rest. The cached
// record is left alone; its trip fields refresh on the next hydrate.
func (s *Service) CleanupDuplicateTrips(ctx context.Context, userID, keepTripID string) (directory.TripCleanup, error) {
	res, err := s.dir.CleanupDuplicateTrips(ctx, userID, keepTripID)
	return res, notFound(err)
}

func (s *Service) ResetJourney(ctx context.Context, userID string, stage user.JourneyStage, state user.State) (user.Stages, error) {
	st, err := s.dir.ResetJourney(ctx, userID, stage, state)
	if err != nil {
		return user.Stages{}, notFound(err)
	}
	s.patchCached(ctx, userID, func(r *user.Record) { r.UserState = string(state) })
	return st, nil
}

// patchCached applies fn to the cached record. Users outside the snapshot and store failures
// are logged and skipped; the directory already holds the change.
func (s *Service) patchCached(ctx context.Context, userID string, fn func(*user.Record)) {
	cached, err := s.store.UpdateUser(ctx, userID, fn)
	if err != nil {
		s.log.WarnContext(ctx, "cache update after user change failed", "user_id", userID, "err", err)
		return
	}
	if !cached {
		s.log.DebugContext(ctx, "changed user is not cached", "user_id", userID)
	}
}

func notFound(err error) error {
	if errors.Is(err, directory.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}
