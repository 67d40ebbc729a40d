package lifecycle

import (
	"strconv"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

type TripStatus string

const (
	TripNone      TripStatus = "No Trip"
	TripPlanning  TripStatus = "Planning"
	TripActive    TripStatus = "Active"
	TripCompleted TripStatus = "Completed"
)

// TripStatusOf derives the trip label. Precedence: no trip, completed, planning, active.
func TripStatusOf(u user.Record) TripStatus {
	switch {
	case !u.HasTrip():
		return TripNone
	case u.TripCompletedAt != nil:
		return TripCompleted
	case u.TripCreatedAt != nil:
		return TripPlanning
	default:
		return TripActive
	}
}

const day = 24 * time.Hour

// AgeInDays is the ceiling of the whole days between createdAt and now. The second result
// is false when createdAt is unknown.
func AgeInDays(u user.Record, now time.Time) (int, bool) {
	if u.CreatedAt == nil {
		return 0, false
	}

	d := now.Sub(*u.CreatedAt)
	if d < 0 {
		d = -d
	}

	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days, true
}

// Age is AgeInDays in a form that serializes cleanly; Days is nil when unknown.
type Age struct {
	Days *int `json:"days"`
}

func AgeOf(u user.Record, now time.Time) Age {
	days, ok := AgeInDays(u, now)
	if !ok {
		return Age{}
	}
	return Age{Days: &days}
}

func (a Age) Known() bool {
	return a.Days != nil
}

func (a Age) String() string {
	if a.Days == nil {
		return "Unknown"
	}
	return strconv.Itoa(*a.Days)
}

