package user

import (
	"errors"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleDev   Role = "dev"
	RoleUser  Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDev, RoleUser:
		return true
	default:
		return false
	}
}

type FunnelStage string

const (
	StageItineraryDemo FunnelStage = "itinerary_demo"
	StageSpotsDemo     FunnelStage = "spots_demo"
	StageUpdatesOnly   FunnelStage = "updates_only"
	StageFullApp       FunnelStage = "full_app"
	StageNone          FunnelStage = "none"
)

// FunnelStages lists the pre-conversion stages in display order.
var FunnelStages = []FunnelStage{StageItineraryDemo, StageSpotsDemo, StageUpdatesOnly}

func (s FunnelStage) IsValid() bool {
	switch s {
	case StageItineraryDemo, StageSpotsDemo, StageUpdatesOnly, StageFullApp, StageNone:
		return true
	default:
		return false
	}
}

// IsFullApp reports whether the stage identifies a user of the complete product.
// An empty stage counts as full app (legacy accounts predate the funnel).
func (s FunnelStage) IsFullApp() bool {
	return s == "" || s == StageNone || s == StageFullApp
}

var (
	ErrMalformedRecord    = errors.New("malformed user record")
	ErrUnknownFunnelStage = errors.New("unknown funnel stage")
)

// Record is one account as held by the remote directory. Records are never created here;
// they are read, relabeled and deleted.
type Record struct {
	UserID          string      `json:"userId"`
	Email           string      `json:"email"`
	FirebaseID      string      `json:"firebaseId,omitempty"`
	FirstName       string      `json:"firstName,omitempty"`
	LastName        string      `json:"lastName,omitempty"`
	ProfileComplete bool        `json:"profileComplete"`
	Role            Role        `json:"role"`
	CreatedAt       *time.Time  `json:"createdAt,omitempty"`
	LastActiveAt    *time.Time  `json:"lastActiveAt,omitempty"`
	TripID          string      `json:"tripId,omitempty"`
	TripCreatedAt   *time.Time  `json:"tripCreatedAt,omitempty"`
	TripCompletedAt *time.Time  `json:"tripCompletedAt,omitempty"`
	FunnelStage     FunnelStage `json:"funnelStage"`
	UserState       string      `json:"userState,omitempty"`
}

func (r Record) HasTrip() bool {
	return r.TripID != ""
}

// DisplayName falls back to the local part of the email when no name is on file.
func (r Record) DisplayName() string {
	name := r.FirstName
	if r.LastName != "" {
		if name != "" {
			name += " "
		}
		name += r.LastName
	}
	if name != "" {
		return name
	}

	for i := 0; i < len(r.Email); i++ {
		if r.Email[i] == '@' {
			return r.Email[:i]
		}
	}
	return r.Email
}

// AnalysisID is the identifier the analysis and funnel endpoints key on.
func (r Record) AnalysisID() string {
	if r.FirebaseID != "" {
		return r.FirebaseID
	}
	return r.UserID
}

// IDSet builds a membership set, skipping blanks.
func IDSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// Without returns the records whose id is not in the set, preserving order.
func Without(records []Record, ids map[string]struct{}) ([]Record, int) {
	out := make([]Record, 0, len(records))
	removed := 0
	for _, r := range records {
		if _, drop := ids[r.UserID]; drop {
			removed++
			continue
		}
		out = append(out, r)
	}
	return out, removed
}

// Patch applies fn to the record with the given id in place. It reports whether one matched.
func Patch(records []Record, userID string, fn func(*Record)) bool {
	for i := range records {
		if records[i].UserID == userID {
			fn(&records[i])
			return true
		}
	}
	return false
}
