package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout     = 20 * time.Second
	defaultConcurrency = 8
	maxErrorBody       = 2048
)

type Config struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	DeleteConcurrency int
}

// Client talks to the remote user directory. It never touches the local cache.
type Client struct {
	baseURL     string
	username    string
	password    string
	timeout     time.Duration
	concurrency int

	http   *http.Client
	prom   *observability.Prom
	tracer trace.Tracer
	log    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithProm(p *observability.Prom) Option {
	return func(c *Client) { c.prom = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		timeout:     cfg.Timeout,
		concurrency: cfg.DeleteConcurrency,
		http:        &http.Client{},
		tracer:      observability.Tracer("directory"),
		log:         slog.Default(),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchResult is one listing. Malformed and Duplicates count records that were dropped.
type FetchResult struct {
	Users      []user.Record
	Malformed  int
	Duplicates int
}

func (c *Client) FetchAll(ctx context.Context) (FetchResult, error) {
	var res FetchResult

	err := c.observe(ctx, "fetch_all", func(ctx context.Context, span trace.Span) error {
		status, body, err := c.do(ctx, http.MethodGet, "/admin/users", nil)
		if err != nil {
			return &UnavailableError{Op: "fetch_all", Cause: err}
		}
		if !success(status) {
			return &UnavailableError{Op: "fetch_all", Status: status}
		}

		decoded, err := user.DecodeRecords(body)
		if err != nil {
			return &UnavailableError{Op: "fetch_all", Status: status, Cause: err}
		}

		res = FetchResult{Users: decoded.Records, Malformed: decoded.Malformed, Duplicates: decoded.Duplicates}
		span.SetAttributes(
			attribute.Int("directory.users", len(res.Users)),
			attribute.Int("directory.malformed", res.Malformed),
		)
		return nil
	})
	if err != nil {
		return FetchResult{}, err
	}

	if res.Malformed > 0 || res.Duplicates > 0 {
		c.log.WarnContext(ctx, "directory listing had unusable records",
			"malformed", res.Malformed, "duplicates", res.Duplicates, "kept", len(res.Users))
	}
	return res, nil
}

func (c *Client) FetchOne(ctx context.Context, userID string) (user.Record, error) {
	var rec user.Record

	err := c.observe(ctx, "fetch_one", func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("user.id", userID))

		status, body, err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(userID), nil)
		if err != nil {
			return &UnavailableError{Op: "fetch_one", Cause: err}
		}
		if status == http.StatusNotFound {
			return ErrUserNotFound
		}
		if !success(status) {
			return &UnavailableError{Op: "fetch_one", Status: status}
		}

		// the single-user endpoint sometimes wraps the record under "user"
		rec, err = user.DecodeUser(body)
		if err != nil {
			return &UnavailableError{Op: "fetch_one", Status: status, Cause: err}
		}
		return nil
	})
	return rec, err
}

type DeleteOutcome string

const (
	Deleted     DeleteOutcome = "deleted"
	AlreadyGone DeleteOutcome = "already_gone"
)

// DeleteOne treats a 404 as AlreadyGone; the caller still prunes the record locally.
func (c *Client) DeleteOne(ctx context.Context, userID string) (DeleteOutcome, error) {
	var outcome DeleteOutcome

	err := c.observe(ctx, "delete_one", func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("user.id", userID))

		status, body, err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil)
		if err != nil {
			return &DeleteFailedError{UserID: userID, Cause: err}
		}

		switch {
		case success(status):
			outcome = Deleted
		case status == http.StatusNotFound:
			outcome = AlreadyGone
		default:
			return &DeleteFailedError{UserID: userID, Status: status, Body: string(body)}
		}
		span.SetAttributes(attribute.String("directory.outcome", string(outcome)))
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

type ItemFailure struct {
	UserID  string `json:"userId"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// DeleteTally aggregates a bulk delete. Removed lists every id that is no longer in the
// directory (deleted or already gone).
type DeleteTally struct {
	Succeeded   int           `json:"succeeded"`
	AlreadyGone int           `json:"alreadyGone"`
	Failed      int           `json:"failed"`
	Removed     []string      `json:"removed"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// DeleteMany attempts every id, with bounded concurrency, and waits for all of them.
// It only errors when nothing could be dispatched.
func (c *Client) DeleteMany(ctx context.Context, userIDs []string) (DeleteTally, error) {
	ids := dedupe(userIDs)
	tally := DeleteTally{Removed: []string{}}
	if len(ids) == 0 {
		return tally, nil
	}
	if err := ctx.Err(); err != nil {
		return tally, &UnavailableError{Op: "delete_many", Cause: err}
	}

	type result struct {
		outcome DeleteOutcome
		err     error
	}
	results := make([]result, len(ids))

	runBounded(c.concurrency, len(ids), func(i int) {
		outcome, err := c.DeleteOne(ctx, ids[i])
		results[i] = result{outcome: outcome, err: err}
	})

	for i, r := range results {
		switch {
		case r.err != nil:
			tally.Failed++
			tally.Failures = append(tally.Failures, failureOf(ids[i], r.err))
		case r.outcome == AlreadyGone:
			tally.AlreadyGone++
			tally.Removed = append(tally.Removed, ids[i])
		default:
			tally.Succeeded++
			tally.Removed = append(tally.Removed, ids[i])
		}
	}

	c.log.InfoContext(ctx, "bulk delete finished",
		"requested", len(ids), "succeeded", tally.Succeeded,
		"already_gone", tally.AlreadyGone, "failed", tally.Failed)
	return tally, nil
}

func (c *Client) UpdateFunnelStage(ctx context.Context, firebaseID string, stage user.FunnelStage) error {
	if !stage.IsValid() {
		return user.ErrUnknownFunnelStage
	}

	return c.observe(ctx, "update_funnel_stage", func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("user.firebase_id", firebaseID), attribute.String("funnel.stage", string(stage)))

		payload := map[string]string{"firebaseId": firebaseID, "funnelStage": string(stage)}
		status, _, err := c.do(ctx, http.MethodPut, "/user/updateFunnelStage", payload)
		if err != nil {
			return &UnavailableError{Op: "update_funnel_stage", Cause: err}
		}
		if status == http.StatusNotFound {
			return ErrUserNotFound
		}
		if !success(status) {
			return &UnavailableError{Op: "update_funnel_stage", Status: status}
		}
		return nil
	})
}

type UpdateTally struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Updated   []string      `json:"updated"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

func (c *Client) UpdateFunnelStages(ctx context.Context, firebaseIDs []string, stage user.FunnelStage) (UpdateTally, error) {
	if !stage.IsValid() {
		return UpdateTally{}, user.ErrUnknownFunnelStage
	}

	ids := dedupe(firebaseIDs)
	tally := UpdateTally{Updated: []string{}}
	if len(ids) == 0 {
		return tally, nil
	}
	if err := ctx.Err(); err != nil {
		return tally, &UnavailableError{Op: "update_funnel_stages", Cause: err}
	}

	errs := make([]error, len(ids))
	runBounded(c.concurrency, len(ids), func(i int) {
		errs[i] = c.UpdateFunnelStage(ctx, ids[i], stage)
	})

	for i, err := range errs {
		if err != nil {
			tally.Failed++
			tally.Failures = append(tally.Failures, failureOf(ids[i], err))
			continue
		}
		tally.Succeeded++
		tally.Updated = append(tally.Updated, ids[i])
	}
	return tally, nil
}

type CleanupResult struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
	TotalDeleted int            `json:"totalDeleted"`
	Details      map[string]any `json:"details,omitempty"`
}

// CleanupOrphanedData asks the directory to drop records that reference deleted users.
func (c *Client) CleanupOrphanedData(ctx context.Context) (CleanupResult, error) {
	var out CleanupResult

	err := c.observe(ctx, "cleanup_orphaned_data", func(ctx context.Context, span trace.Span) error {
		status, body, err := c.do(ctx, http.MethodPost, "/admin/cleanup-orphaned-data", struct{}{})
		if err != nil {
			return &UnavailableError{Op: "cleanup_orphaned_data", Cause: err}
		}
		if !success(status) {
			return &UnavailableError{Op: "cleanup_orphaned_data", Status: status}
		}

		var wire struct {
			Success bool           `json:"success"`
			Message string         `json:"message"`
			Error   string         `json:"error"`
			Details map[string]any `json:"details"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return &UnavailableError{Op: "cleanup_orphaned_data", Status: status, Cause: err}
		}
		if !wire.Success {
			msg := wire.Error
			if msg == "" {
				msg = "cleanup failed"
			}
			return &UnavailableError{Op: "cleanup_orphaned_data", Status: status, Cause: errors.New(msg)}
		}

		out = CleanupResult{Success: true, Message: wire.Message, Details: wire.Details}
		if n, ok := wire.Details["totalDeleted"].(float64); ok {
			out.TotalDeleted = int(n)
		}
		span.SetAttributes(attribute.Int("directory.total_deleted", out.TotalDeleted))
		return nil
	})
	return out, err
}

// observe wraps one logical call in a span, a timeout and the directory metrics.
func (c *Client) observe(ctx context.Context, op string, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := c.tracer.Start(ctx, "directory."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	run := func() error { return fn(ctx, span) }

	var err error
	if c.prom != nil {
		err = c.prom.ObserveDirectory(op, run)
	} else {
		err = run()
	}

	if err != nil && !errors.Is(err, ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.Header.Set("username", c.username)
		req.Header.Set("password", c.password)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := int64(maxErrorBody)
	if success(resp.StatusCode) {
		// full listings can run to tens of megabytes
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func failureOf(id string, err error) ItemFailure {
	f := ItemFailure{UserID: id, Message: err.Error()}

	var dErr *DeleteFailedError
	var uErr *UnavailableError
	switch {
	case errors.As(err, &dErr):
		f.Status = dErr.Status
	case errors.As(err, &uErr):
		f.Status = uErr.Status
	case errors.Is(err, ErrUserNotFound):
		f.Status = http.StatusNotFound
	}
	return f
}
