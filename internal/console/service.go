package console

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geocoder89/tripadmin/internal/analysis"
	"github.com/geocoder89/tripadmin/internal/cache"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/lifecycle"
	"github.com/geocoder89/tripadmin/internal/messaging"
)

var ErrUserNotFound = errors.New("user not found")

// Directory is the slice of the remote directory client the console uses.
type Directory interface {
	FetchAll(ctx context.Context) (directory.FetchResult, error)
	FetchOne(ctx context.Context, userID string) (user.Record, error)
	DeleteOne(ctx context.Context, userID string) (directory.DeleteOutcome, error)
	DeleteMany(ctx context.Context, userIDs []string) (directory.DeleteTally, error)
	UpdateFunnelStages(ctx context.Context, firebaseIDs []string, stage user.FunnelStage) (directory.UpdateTally, error)
	CleanupOrphanedData(ctx context.Context) (directory.CleanupResult, error)

	FetchStages(ctx context.Context, userID string) (user.Stages, error)
	UpdateStage(ctx context.Context, userID string, field user.StageField, value string) (user.Stages, error)
	UpdateFlag(ctx context.Context, userID string, flag user.Flag, value bool) (user.Stages, error)
	ResetStage(ctx context.Context, userID string, stage user.JourneyStage) (user.Stages, error)
	FetchAccount(ctx context.Context, userID string) (user.Account, error)
	CleanupDuplicateTrips(ctx context.Context, userID, keepTripID string) (directory.TripCleanup, error)
	ResetJourney(ctx context.Context, userID string, stage user.JourneyStage, state user.State) (user.Stages, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, rec user.Record) (analysis.Result, error)
}

type MessageSender interface {
	Send(ctx context.Context, key messaging.TemplateKey, users []user.Record, now time.Time, force bool) (messaging.SendTally, error)
}

type Config struct {
	Policy    lifecycle.Policy
	GraceDays int
}

// Service backs every dashboard view. Reads come from the cache store; mutations go to the
// directory first and then prune the cached snapshot.
type Service struct {
	dir      Directory
	store    cache.Store
	analyzer Analyzer
	sender   MessageSender

	policy    lifecycle.Policy
	graceDays int

	now func() time.Time
	log *slog.Logger
}

type Option func(*Service)

func WithAnalyzer(a Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

func WithSender(m MessageSender) Option {
	return func(s *Service) { s.sender = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(dir Directory, store cache.Store, cfg Config, opts ...Option) *Service {
	if cfg.GraceDays <= 0 {
		cfg.GraceDays = lifecycle.DefaultGracePeriodDays
	}
	if cfg.Policy == nil {
		cfg.Policy = lifecycle.NewFallbackPolicy(lifecycle.NewHeuristicPolicy(cfg.GraceDays))
	}

	s := &Service{
		dir:       dir,
		store:     store,
		policy:    cfg.Policy,
		graceDays: cfg.GraceDays,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() lifecycle.Policy { return s.policy }

type HydrateResult struct {
	Users      int       `json:"users"`
	Malformed  int       `json:"malformed"`
	Duplicates int       `json:"duplicates"`
	FetchedAt  time.Time `json:"fetchedAt"`
	// Saved is false when a newer snapshot landed while this fetch was in flight.
	Saved bool `json:"saved"`
}

// Hydrate fetches the full directory and replaces the snapshot. The snapshot is stamped with
// the time the fetch started so a slow fetch cannot overwrite a newer one. On failure the
// previous snapshot is left untouched.
func (s *Service) Hydrate(ctx context.Context) (HydrateResult, error) {
	startedAt := s.now().UTC()

	res, err := s.dir.FetchAll(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "hydrate failed, keeping previous snapshot", "err", err)
		return HydrateResult{}, err
	}

	saved, err := s.store.SaveIfNewer(ctx, cache.Snapshot{Users: res.Users, FetchedAt: startedAt})
	if err != nil {
		return HydrateResult{}, err
	}
	if !saved {
		s.log.InfoContext(ctx, "hydrate result superseded by a newer snapshot", "started_at", startedAt)
	}

	return HydrateResult{
		Users:      len(res.Users),
		Malformed:  res.Malformed,
		Duplicates: res.Duplicates,
		FetchedAt:  startedAt,
		Saved:      saved,
	}, nil
}

// Cached returns the stored snapshot, or cache.ErrCacheEmpty before the first hydrate.
func (s *Service) Cached(ctx context.Context) (cache.Snapshot, error) {
	return s.store.Load(ctx)
}

func (s *Service) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx)
}

type DeleteResult struct {
	UserID  string                  `json:"userId"`
	Outcome directory.DeleteOutcome `json:"outcome"`
}

// DeleteUser removes the user remotely and then from the snapshot. A 404 counts as done.
func (s *Service) DeleteUser(ctx context.Context, userID string) (DeleteResult, error) {
	outcome, err := s.dir.DeleteOne(ctx, userID)
	if err != nil {
		return DeleteResult{}, err
	}

	if err := s.store.Remove(ctx, userID); err != nil {
		// the remote delete stands; the next hydrate drops the stale row
		s.log.WarnContext(ctx, "cache prune after delete failed", "user_id", userID, "err", err)
	}
	return DeleteResult{UserID: userID, Outcome: outcome}, nil
}

type BulkDeleteResult struct {
	directory.DeleteTally
	// Skipped lists ids left alone under onlySafe: unsafe per the policy or not cached.
	Skipped []string `json:"skipped,omitempty"`
}

// BulkDelete deletes every id, waits for all outcomes, then prunes deleted and already-gone
// ids from the snapshot in one atomic step. With onlySafe, ids the policy protects (or that
// are not in the snapshot) are skipped.
func (s *Service) BulkDelete(ctx context.Context, userIDs []string, onlySafe bool) (BulkDeleteResult, error) {
	var out BulkDeleteResult

	ids := userIDs
	if onlySafe {
		var err error
		ids, out.Skipped, err = s.safeSubset(ctx, userIDs)
		if err != nil {
			return BulkDeleteResult{}, err
		}
	}

	tally, err := s.dir.DeleteMany(ctx, ids)
	if err != nil {
		return BulkDeleteResult{}, err
	}
	out.DeleteTally = tally

	if len(tally.Removed) > 0 {
		if _, err := s.store.RemoveMany(ctx, tally.Removed); err != nil {
			s.log.WarnContext(ctx, "cache prune after bulk delete failed", "removed", len(tally.Removed), "err", err)
		}
	}
	return out, nil
}

func (s *Service) safeSubset(ctx context.Context, userIDs []string) ([]string, []string, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	byID := make(map[string]user.Record, len(snap.Users))
	for _, u := range snap.Users {
		byID[u.UserID] = u
	}

	var safe, skipped []string
	for _, id := range userIDs {
		u, ok := byID[id]
		if ok && s.policy.Evaluate(u, now).SafeToDelete {
			safe = append(safe, id)
			continue
		}
		skipped = append(skipped, id)
	}
	return safe, skipped, nil
}

func (s *Service) CleanupOrphans(ctx context.Context) (directory.CleanupResult, error) {
	return s.dir.CleanupOrphanedData(ctx)
}
