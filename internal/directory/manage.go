package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrKeepTripRequired = errors.New("keepTripId is required")

// TripCleanup is the directory's answer to a duplicate-trip cleanup.
type TripCleanup struct {
	TripsRemoved int    `json:"tripsRemoved"`
	KeptTripID   string `json:"keptTripId"`
}

func usersPath(userID string, rest ...string) string {
	return "/admin/users/" + url.PathEscape(userID) + strings.Join(rest, "")
}

func accountPath(userID string, rest ...string) string {
	return "/admin/user/" + url.PathEscape(userID) + strings.Join(rest, "")
}

// call runs one per-user request and maps transport failures, 404s and other non-2xx
// statuses the same way for every management endpoint.
func (c *Client) call(ctx context.Context, op, userID, method, path string, payload any) ([]byte, error) {
	var out []byte

	err := c.observe(ctx, op, func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("user.id", userID))

		status, body, err := c.do(ctx, method, path, payload)
		if err != nil {
			return &UnavailableError{Op: op, Cause: err}
		}
		if status == http.StatusNotFound {
			return ErrUserNotFound
		}
		if !success(status) {
			return &UnavailableError{Op: op, Status: status, Cause: upstreamMessage(body)}
		}
		out = body
		return nil
	})
	return out, err
}

// stagesCall is call for endpoints that answer with the updated user. A body that is not a
// user (a bare {"success":true}) is answered by reading the stages back.
func (c *Client) stagesCall(ctx context.Context, op, userID, method, path string, payload any) (user.Stages, error) {
	body, err := c.call(ctx, op, userID, method, path, payload)
	if err != nil {
		return user.Stages{}, err
	}
	if st, err := user.DecodeStages(body); err == nil {
		return st, nil
	}
	return c.FetchStages(ctx, userID)
}

func (c *Client) FetchStages(ctx context.Context, userID string) (user.Stages, error) {
	body, err := c.call(ctx, "fetch_stages", userID, http.MethodGet, usersPath(userID, "/stages"), nil)
	if err != nil {
		return user.Stages{}, err
	}
	st, err := user.DecodeStages(body)
	if err != nil {
		return user.Stages{}, &UnavailableError{Op: "fetch_stages", Status: http.StatusOK, Cause: err}
	}
	return st, nil
}

// UpdateStage sets the journey stage or the user state.
func (c *Client) UpdateStage(ctx context.Context, userID string, field user.StageField, value string) (user.Stages, error) {
	if err := user.ValidateStage(field, value); err != nil {
		return user.Stages{}, err
	}
	payload := map[string]string{"stage": string(field), "value": value}
	return c.stagesCall(ctx, "update_stage", userID, http.MethodPut, usersPath(userID, "/stages"), payload)
}

func (c *Client) UpdateFlag(ctx context.Context, userID string, flag user.Flag, value bool) (user.Stages, error) {
	if !flag.IsValid() {
		return user.Stages{}, user.ErrUnknownFlag
	}
	payload := map[string]any{"flag": string(flag), "value": value}
	return c.stagesCall(ctx, "update_flag", userID, http.MethodPut, usersPath(userID, "/flags"), payload)
}

// ResetStage clears everything the directory attached to one journey stage.
func (c *Client) ResetStage(ctx context.Context, userID string, stage user.JourneyStage) (user.Stages, error) {
	if !stage.IsValid() {
		return user.Stages{}, user.ErrUnknownJourneyStage
	}
	path := usersPath(userID, "/stages/", url.PathEscape(string(stage)), "/reset")
	return c.stagesCall(ctx, "reset_stage", userID, http.MethodPost, path, struct{}{})
}

// FetchAccount reads a user together with all of their trips.
func (c *Client) FetchAccount(ctx context.Context, userID string) (user.Account, error) {
	body, err := c.call(ctx, "fetch_account", userID, http.MethodGet, accountPath(userID), nil)
	if err != nil {
		return user.Account{}, err
	}
	acct, err := user.DecodeAccount(body)
	if err != nil {
		return user.Account{}, &UnavailableError{Op: "fetch_account", Status: http.StatusOK, Cause: err}
	}
	return acct, nil
}

// CleanupDuplicateTrips deletes every trip of the user except keepTripID.
func (c *Client) CleanupDuplicateTrips(ctx context.Context, userID, keepTripID string) (TripCleanup, error) {
	keepTripID = strings.TrimSpace(keepTripID)
	if keepTripID == "" {
		return TripCleanup{}, ErrKeepTripRequired
	}

	body, err := c.call(ctx, "cleanup_duplicate_trips", userID, http.MethodPost,
		accountPath(userID, "/cleanup-duplicates"), map[string]string{"keepTripId": keepTripID})
	if err != nil {
		return TripCleanup{}, err
	}

	var wire struct {
		TripsRemoved json.Number `json:"tripsRemoved"`
	}
	out := TripCleanup{KeptTripID: keepTripID}
	if err := json.Unmarshal(body, &wire); err == nil {
		if n, err := wire.TripsRemoved.Int64(); err == nil {
			out.TripsRemoved = int(n)
		}
	}
	c.log.InfoContext(ctx, "duplicate trips cleaned up",
		"user_id", userID, "kept_trip_id", keepTripID, "trips_removed", out.TripsRemoved)
	return out, nil
}

// ResetJourney moves the user back to journeyStage with the given state in one call.
func (c *Client) ResetJourney(ctx context.Context, userID string, stage user.JourneyStage, state user.State) (user.Stages, error) {
	if !stage.IsValid() {
		return user.Stages{}, user.ErrUnknownJourneyStage
	}
	if !state.IsValid() {
		return user.Stages{}, user.ErrUnknownUserState
	}
	payload := map[string]string{"journeyStage": string(stage), "userState": string(state)}
	return c.stagesCall(ctx, "reset_journey", userID, http.MethodPost, accountPath(userID, "/reset-journey"), payload)
}

// upstreamMessage pulls {"error": "..."} or {"message": "..."} out of an error body.
func upstreamMessage(body []byte) error {
	var wire struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wire) != nil {
		return nil
	}
	if wire.Error != "" {
		return errors.New(wire.Error)
	}
	if wire.Message != "" {
		return errors.New(wire.Message)
	}
	return nil
}
