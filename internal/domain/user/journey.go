package user

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownJourneyStage = errors.New("unknown journey stage")
	ErrUnknownUserState    = errors.New("unknown user state")
	ErrUnknownStageField   = errors.New("unknown stage field")
	ErrUnknownFlag         = errors.New("unknown user flag")
)

// JourneyStage is where the directory places a user in the full-app journey.
type JourneyStage string

const (
	JourneyNewUser           JourneyStage = "new_user"
	JourneyProfileComplete   JourneyStage = "profile_complete"
	JourneyTripSetDone       JourneyStage = "trip_set_done"
	JourneyItineraryComplete JourneyStage = "itinerary_complete"
)

var JourneyStages = []JourneyStage{JourneyNewUser, JourneyProfileComplete, JourneyTripSetDone, JourneyItineraryComplete}

func (s JourneyStage) IsValid() bool {
	switch s {
	case JourneyNewUser, JourneyProfileComplete, JourneyTripSetDone, JourneyItineraryComplete:
		return true
	default:
		return false
	}
}

// State is the lifecycle state an admin or the analysis service assigns to a user.
type State string

const (
	StateActive    State = "active"
	StateInactive  State = "inactive"
	StateAbandoned State = "abandoned"
	StateDemo      State = "demo"
	StateDemoOnly  State = "demo_only"
)

func (s State) IsValid() bool {
	switch s {
	case StateActive, StateInactive, StateAbandoned, StateDemo, StateDemoOnly:
		return true
	default:
		return false
	}
}

// StageField names what a stage update writes.
type StageField string

const (
	FieldJourneyStage StageField = "journeyStage"
	FieldUserState    StageField = "userState"
)

// ValidateStage checks value against the vocabulary of field.
func ValidateStage(field StageField, value string) error {
	switch field {
	case FieldJourneyStage:
		if !JourneyStage(value).IsValid() {
			return ErrUnknownJourneyStage
		}
	case FieldUserState:
		if !State(value).IsValid() {
			return ErrUnknownUserState
		}
	default:
		return ErrUnknownStageField
	}
	return nil
}

// Flag is one boolean the directory keeps per user.
type Flag string

const (
	FlagProfileComplete    Flag = "profileComplete"
	FlagTripCreated        Flag = "tripCreated"
	FlagItineraryComplete  Flag = "itineraryComplete"
	FlagEmailVerified      Flag = "emailVerified"
	FlagOnboardingComplete Flag = "onboardingComplete"
	FlagEmailOptIn         Flag = "emailOptIn"
	FlagMarketingOptIn     Flag = "marketingOptIn"
)

var Flags = []Flag{
	FlagProfileComplete, FlagTripCreated, FlagItineraryComplete, FlagEmailVerified,
	FlagOnboardingComplete, FlagEmailOptIn, FlagMarketingOptIn,
}

func (f Flag) IsValid() bool {
	for _, known := range Flags {
		if f == known {
			return true
		}
	}
	return false
}

// Stages is a user's journey position, state and flags as the directory reports them.
type Stages struct {
	User            Record        `json:"user"`
	JourneyStage    JourneyStage  `json:"journeyStage,omitempty"`
	UserState       string        `json:"userState,omitempty"`
	Flags           map[Flag]bool `json:"flags"`
	EngagementScore *float64      `json:"engagementScore,omitempty"`
	LastActivityAt  *time.Time    `json:"lastActivityAt,omitempty"`
}

type wireStages struct {
	JourneyStage    string                     `json:"journeyStage"`
	EngagementScore flexFloat                  `json:"engagementScore"`
	LastActivityAt  flexTime                   `json:"lastActivityAt"`
	Flags           map[string]json.RawMessage `json:"flags"`
}

// DecodeStages reads the stage view of one user. Flags may sit at the top level of the
// user object or under "flags"; flags the directory omits read as false.
func DecodeStages(data []byte) (Stages, error) {
	data = unwrapUser(data)

	rec, err := DecodeRecord(data)
	if err != nil {
		return Stages{}, err
	}

	var w wireStages
	if err := json.Unmarshal(data, &w); err != nil {
		return Stages{}, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Stages{}, err
	}

	out := Stages{
		User:            rec,
		JourneyStage:    JourneyStage(strings.TrimSpace(w.JourneyStage)),
		UserState:       rec.UserState,
		Flags:           make(map[Flag]bool, len(Flags)),
		EngagementScore: w.EngagementScore.ptr(),
		LastActivityAt:  w.LastActivityAt.ptr(),
	}
	for _, f := range Flags {
		raw, ok := w.Flags[string(f)]
		if !ok {
			raw, ok = top[string(f)]
		}
		var b flexBool
		if ok {
			_ = b.UnmarshalJSON(raw)
		}
		out.Flags[f] = bool(b)
	}
	return out, nil
}

// Trip is one trip owned by a user.
type Trip struct {
	TripID     string     `json:"tripId"`
	Name       string     `json:"tripName,omitempty"`
	City       string     `json:"city,omitempty"`
	PartyCount int        `json:"partyCount"`
	Complete   bool       `json:"tripComplete"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	// Current marks the trip the user record points at.
	Current bool `json:"current"`
}

type TripSummary struct {
	TotalTrips       int `json:"totalTrips"`
	ActiveTrips      int `json:"activeTrips"`
	CompletedTrips   int `json:"completedTrips"`
	JoinCodesCreated int `json:"joinCodesCreated"`
}

// Account is a user with every trip the directory holds for them, newest trip first.
type Account struct {
	User         Record       `json:"user"`
	JourneyStage JourneyStage `json:"journeyStage,omitempty"`
	Trips        []Trip       `json:"trips"`
	Summary      TripSummary  `json:"summary"`
}

// HasDuplicateTrips reports whether the account holds more than one trip.
func (a Account) HasDuplicateTrips() bool {
	return len(a.Trips) > 1
}

// SuggestedKeep is the trip to keep when collapsing duplicates: the newest one.
func (a Account) SuggestedKeep() string {
	if len(a.Trips) == 0 {
		return ""
	}
	return a.Trips[0].TripID
}

type wireTrip struct {
	ID         flexID    `json:"_id"`
	TripID     flexID    `json:"tripId"`
	Name       string    `json:"tripName"`
	City       string    `json:"city"`
	PartyCount flexFloat `json:"partyCount"`
	Complete   flexBool  `json:"tripComplete"`
	CreatedAt  flexTime  `json:"createdAt"`
}

type wireAccount struct {
	User      json.RawMessage   `json:"user"`
	Trips     []wireTrip        `json:"trips"`
	JoinCodes []json.RawMessage `json:"joinCodes"`
	Summary   *TripSummary      `json:"summary"`
}

// DecodeAccount reads the full-user payload ({user, trips, joinCodes, summary}). A missing
// summary is derived from the trips.
func DecodeAccount(data []byte) (Account, error) {
	var w wireAccount
	if err := json.Unmarshal(data, &w); err != nil {
		return Account{}, err
	}
	if len(w.User) == 0 {
		return Account{}, ErrMalformedRecord
	}

	rec, err := DecodeRecord(w.User)
	if err != nil {
		return Account{}, err
	}
	var stage struct {
		JourneyStage string `json:"journeyStage"`
	}
	_ = json.Unmarshal(w.User, &stage)

	acct := Account{
		User:         rec,
		JourneyStage: JourneyStage(strings.TrimSpace(stage.JourneyStage)),
		Trips:        make([]Trip, 0, len(w.Trips)),
	}
	for _, wt := range w.Trips {
		id := strings.TrimSpace(string(wt.ID))
		if id == "" {
			id = strings.TrimSpace(string(wt.TripID))
		}
		if id == "" {
			continue
		}
		party := 0
		if p := wt.PartyCount.ptr(); p != nil {
			party = int(*p)
		}
		acct.Trips = append(acct.Trips, Trip{
			TripID:     id,
			Name:       strings.TrimSpace(wt.Name),
			City:       strings.TrimSpace(wt.City),
			PartyCount: party,
			Complete:   bool(wt.Complete),
			CreatedAt:  wt.CreatedAt.ptr(),
			Current:    id == rec.TripID,
		})
	}

	// trips without a creation time sort last
	sort.SliceStable(acct.Trips, func(i, j int) bool {
		a, b := acct.Trips[i].CreatedAt, acct.Trips[j].CreatedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})

	if w.Summary != nil {
		acct.Summary = *w.Summary
	} else {
		acct.Summary = TripSummary{TotalTrips: len(acct.Trips), JoinCodesCreated: len(w.JoinCodes)}
		for _, t := range acct.Trips {
			if t.Complete {
				acct.Summary.CompletedTrips++
			} else {
				acct.Summary.ActiveTrips++
			}
		}
	}
	return acct, nil
}

// DecodeUser reads a single user that may be wrapped under "user".
func DecodeUser(data []byte) (Record, error) {
	return DecodeRecord(unwrapUser(data))
}

func unwrapUser(data []byte) []byte {
	var envelope struct {
		User json.RawMessage `json:"user"`
	}
	if json.Unmarshal(data, &envelope) == nil {
		inner := bytes.TrimSpace(envelope.User)
		if len(inner) > 0 && inner[0] == '{' {
			return inner
		}
	}
	return data
}

// flexFloat accepts a number or a numeric string; anything else stays unset.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}
