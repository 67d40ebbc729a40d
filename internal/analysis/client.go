package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/tripadmin/internal/breaker"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	ErrNotConfigured       = errors.New("analysis service not configured")
)

type UnavailableError struct {
	Status int
	Body   string
	Cause  error
}

func (e *UnavailableError) Error() string {
	msg := "analysis"
	if e.Status > 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool { return target == ErrAnalysisUnavailable }
func (e *UnavailableError) Unwrap() error        { return e.Cause }
func (e *UnavailableError) StatusCode() int      { return e.Status }

type Hints struct {
	UserType        string `json:"user_type"`
	EntryPoint      string `json:"entry_point"`
	HasProfile      bool   `json:"has_profile"`
	HasTrip         bool   `json:"has_trip"`
	DaysSinceSignup int    `json:"days_since_signup"`
}

type Request struct {
	UserID          string     `json:"user_id"`
	FirebaseID      string     `json:"firebase_id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	ProfileComplete bool       `json:"profileComplete"`
	TripID          string     `json:"tripId,omitempty"`
	FunnelStage     string     `json:"funnelStage"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	Context         string     `json:"context"`
	Hints           Hints      `json:"hints"`
}

type State struct {
	JourneyStage    string `json:"journey_stage"`
	UserState       string `json:"user_state"`
	EngagementLevel string `json:"engagement_level"`
	TripStatus      string `json:"trip_status"`
}

type Result struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message,omitempty"`
	State        *State            `json:"user_state,omitempty"`
	ActionsTaken []json.RawMessage `json:"actions_taken"`
}

const entryPoint = "admin_console"

// NewRequest builds the analysis payload for one record. days_since_signup is whole days
// elapsed, zero when the signup date is unknown.
func NewRequest(rec user.Record, now time.Time) Request {
	days := 0
	if rec.CreatedAt != nil {
		if d := now.Sub(*rec.CreatedAt); d > 0 {
			days = int(d / (24 * time.Hour))
		}
	}

	return Request{
		UserID:          rec.UserID,
		FirebaseID:      rec.AnalysisID(),
		Email:           rec.Email,
		FirstName:       rec.FirstName,
		LastName:        rec.LastName,
		ProfileComplete: rec.ProfileComplete,
		TripID:          rec.TripID,
		FunnelStage:     string(rec.FunnelStage),
		CreatedAt:       rec.CreatedAt,
		Context:         entryPoint,
		Hints: Hints{
			UserType:        "existing_user",
			EntryPoint:      entryPoint,
			HasProfile:      rec.ProfileComplete,
			HasTrip:         rec.HasTrip(),
			DaysSinceSignup: days,
		},
	}
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the lifecycle analysis service behind a circuit breaker. Caller errors (4xx)
// do not count against the circuit.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
	tracer  trace.Tracer
	now     func() time.Time
}

func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		breaker: breaker.New(breaker.Config{
			Timeout:          cfg.Timeout,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			IsFailure:        isServiceFailure,
		}),
		tracer: observability.Tracer("analysis"),
		now:    time.Now,
	}
}

func (c *Client) Analyze(ctx context.Context, rec user.Record) (Result, error) {
	if c.baseURL == "" {
		return Result{}, ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "analysis.analyze_user", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("user.id", rec.UserID))

	payload, err := json.Marshal(NewRequest(rec, c.now()))
	if err != nil {
		return Result{}, fmt.Errorf("encode analysis request: %w", err)
	}

	var res Result
	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.post(ctx, payload)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return Result{}, &UnavailableError{Cause: err}
		}
		return Result{}, err
	}

	span.SetAttributes(attribute.Bool("analysis.success", res.Success), attribute.Int("analysis.actions", len(res.ActionsTaken)))
	return res, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze-user", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &UnavailableError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &UnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &UnavailableError{Status: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Result{}, &UnavailableError{Status: resp.StatusCode, Body: snippet}
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, &UnavailableError{Status: resp.StatusCode, Cause: err}
	}
	if res.ActionsTaken == nil {
		res.ActionsTaken = []json.RawMessage{}
	}
	return res, nil
}

func isServiceFailure(err error) bool {
	var uErr *UnavailableError
	if errors.As(err, &uErr) && uErr.Status >= 400 && uErr.Status < 500 {
		return false
	}
	return true
}
