package handlers

import (
	"context"

	"github.com/geocoder89/tripadmin/internal/cache"
	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/messaging"
)

// Console is the service surface the admin handlers call. *console.Service implements it.
type Console interface {
	Hydrate(ctx context.Context) (console.HydrateResult, error)
	Cached(ctx context.Context) (cache.Snapshot, error)
	ClearCache(ctx context.Context) error
	Overview(ctx context.Context, f console.Filter) (console.Overview, error)
	User(ctx context.Context, userID string) (console.UserRow, error)
	DeleteUser(ctx context.Context, userID string) (console.DeleteResult, error)
	BulkDelete(ctx context.Context, userIDs []string, onlySafe bool) (console.BulkDeleteResult, error)
	Journey(ctx context.Context) (console.JourneyView, error)
	Funnel(ctx context.Context, stage user.FunnelStage) (console.FunnelView, error)
	UpdateFunnelStage(ctx context.Context, userIDs []string, stage user.FunnelStage) (directory.UpdateTally, error)
	Analyze(ctx context.Context, userID string) (console.AnalyzeResult, error)
	CleanupOrphans(ctx context.Context) (directory.CleanupResult, error)
	EligibleForMessage(ctx context.Context, key messaging.TemplateKey) ([]console.UserRow, error)
	Message(ctx context.Context, key messaging.TemplateKey, userIDs []string, force bool) (messaging.SendTally, error)

	Stages(ctx context.Context, userID string) (user.Stages, error)
	UpdateStage(ctx context.Context, userID string, field user.StageField, value string) (user.Stages, error)
	UpdateFlag(ctx context.Context, userID string, flag user.Flag, value bool) (user.Stages, error)
	ResetStage(ctx context.Context, userID string, stage user.JourneyStage) (user.Stages, error)
	Account(ctx context.Context, userID string) (console.AccountView, error)
	CleanupDuplicateTrips(ctx context.Context, userID, keepTripID string) (directory.TripCleanup, error)
	ResetJourney(ctx context.Context, userID string, stage user.JourneyStage, state user.State) (user.Stages, error)
}

var _ Console = (*console.Service)(nil)
