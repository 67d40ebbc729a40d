package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

// DefaultGracePeriodDays is how long a new account is protected from deletion.
const DefaultGracePeriodDays = 15

type Label string

const (
	LabelActive     Label = "Active User"
	LabelNew        Label = "New User"
	LabelIncomplete Label = "Incomplete Profile"
	LabelAbandoned  Label = "Abandoned Account"
	LabelInactive   Label = "Inactive User"
	LabelDemo       Label = "Demo User"
	LabelUnknown    Label = "Unknown"
)

const (
	SourceHeuristic = "heuristic"
	SourceState     = "state"
)

type Safety struct {
	Label        Label  `json:"label"`
	SafeToDelete bool   `json:"safeToDelete"`
	Reason       string `json:"reason"`
	Source       string `json:"source"`
}

// Policy decides whether an account can be removed. Implementations must be pure.
type Policy interface {
	Name() string
	Evaluate(u user.Record, now time.Time) Safety
}

var ErrUnknownPolicy = errors.New("unknown safety policy")

const (
	PolicyAuto      = "auto"
	PolicyHeuristic = "heuristic"
	PolicyState     = "state"
)

// PolicyFor resolves a configured policy name. "auto" (the default) trusts the analysis
// service's state when a record carries one and falls back to the heuristic otherwise.
func PolicyFor(name string, graceDays int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAuto:
		return NewFallbackPolicy(NewHeuristicPolicy(graceDays)), nil
	case PolicyHeuristic:
		return NewHeuristicPolicy(graceDays), nil
	case PolicyState:
		return StatePolicy{}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}

// Facts are the inputs every heuristic rule looks at, computed once per evaluation.
type Facts struct {
	HasTrip         bool
	TripCompleted   bool
	ProfileComplete bool
	Age             Age
	GraceDays       int
}

// WithinGrace is true when the account's age is known and no older than the grace period.
// An account without a signup date is never new, so it falls through to the abandoned and
// inactive rules the way the dashboard always classified it.
func (f Facts) WithinGrace() bool {
	return f.Age.Known() && *f.Age.Days <= f.GraceDays
}

func factsOf(u user.Record, now time.Time, graceDays int) Facts {
	return Facts{
		HasTrip:         u.HasTrip(),
		TripCompleted:   u.TripCompletedAt != nil,
		ProfileComplete: u.ProfileComplete,
		Age:             AgeOf(u, now),
		GraceDays:       graceDays,
	}
}

type Rule struct {
	Name   string
	When   func(f Facts) bool
	Result Safety
}

// DefaultRules is the deletion cascade, evaluated top-down; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "active_trip",
			When:   func(f Facts) bool { return f.HasTrip && !f.TripCompleted },
			Result: Safety{Label: LabelActive, Reason: "has active trip"},
		},
		{
			Name:   "any_trip",
			When:   func(f Facts) bool { return f.HasTrip },
			Result: Safety{Label: LabelActive, Reason: "has trip, do not delete"},
		},
		{
			Name:   "new_user",
			When:   func(f Facts) bool { return f.ProfileComplete && f.WithinGrace() },
			Result: Safety{Label: LabelNew, Reason: "new account within grace period"},
		},
		{
			Name:   "incomplete_in_grace",
			When:   func(f Facts) bool { return !f.ProfileComplete && f.WithinGrace() },
			Result: Safety{Label: LabelIncomplete, Reason: "profile incomplete, still in grace period"},
		},
		{
			Name:   "abandoned",
			When:   func(f Facts) bool { return !f.ProfileComplete },
			Result: Safety{Label: LabelAbandoned, SafeToDelete: true, Reason: "profile never completed after grace period"},
		},
		{
			Name:   "inactive",
			When:   func(Facts) bool { return true },
			Result: Safety{Label: LabelInactive, SafeToDelete: true, Reason: "no trip after grace period"},
		},
	}
}

type HeuristicPolicy struct {
	graceDays int
	rules     []Rule
}

func NewHeuristicPolicy(graceDays int) *HeuristicPolicy {
	if graceDays <= 0 {
		graceDays = DefaultGracePeriodDays
	}
	return &HeuristicPolicy{
		graceDays: graceDays,
		rules:     DefaultRules(),
	}
}

func (p *HeuristicPolicy) Name() string { return PolicyHeuristic }

func (p *HeuristicPolicy) GraceDays() int { return p.graceDays }

func (p *HeuristicPolicy) Evaluate(u user.Record, now time.Time) Safety {
	f := factsOf(u, now, p.graceDays)

	for _, r := range p.rules {
		if r.When(f) {
			out := r.Result
			out.Source = SourceHeuristic
			return out
		}
	}

	// unreachable while the last rule is a catch-all
	return Safety{Label: LabelUnknown, Reason: "no rule matched", Source: SourceHeuristic}
}

// StatePolicy maps the analysis service's userState directly. Unknown states are not safe.
type StatePolicy struct{}

var stateTable = map[string]Safety{
	"active":    {Label: LabelActive, Reason: "analysis reports active"},
	"demo":      {Label: LabelDemo, Reason: "analysis reports demo user"},
	"demo_only": {Label: LabelDemo, Reason: "user is limited to the demo"},
	"inactive":  {Label: LabelInactive, SafeToDelete: true, Reason: "analysis reports inactive"},
	"abandoned": {Label: LabelAbandoned, SafeToDelete: true, Reason: "analysis reports abandoned"},
}

func (StatePolicy) Name() string { return PolicyState }

func (StatePolicy) Evaluate(u user.Record, _ time.Time) Safety {
	s, ok := stateTable[strings.ToLower(strings.TrimSpace(u.UserState))]
	if !ok {
		s = Safety{Label: LabelUnknown, Reason: "no recognised analysis state"}
	}
	s.Source = SourceState
	return s
}

type FallbackPolicy struct {
	state     StatePolicy
	heuristic Policy
}

func NewFallbackPolicy(heuristic Policy) *FallbackPolicy {
	return &FallbackPolicy{heuristic: heuristic}
}

func (p *FallbackPolicy) Name() string { return PolicyAuto }

func (p *FallbackPolicy) Evaluate(u user.Record, now time.Time) Safety {
	if strings.TrimSpace(u.UserState) != "" {
		return p.state.Evaluate(u, now)
	}
	return p.heuristic.Evaluate(u, now)
}
