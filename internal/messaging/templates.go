package messaging

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/lifecycle"
)

var ErrUnknownTemplate = errors.New("unknown message template")

type TemplateKey string

const (
	WelcomeSignup   TemplateKey = "welcomeSignup"
	ProfileReminder TemplateKey = "profileReminder"
	DeletionWarning TemplateKey = "deletionWarning"
	TripUpcoming    TemplateKey = "tripUpcoming"
	WelcomeBack     TemplateKey = "welcomeBack"
)

const (
	profileReminderDay = 3
	deletionWarningDay = 14
	inactiveDays       = 30
)

// Template is one lifecycle message. Eligible decides whether a user should receive it now.
type Template struct {
	Key         TemplateKey `json:"key"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Trigger     string      `json:"trigger"`
	Subject     string      `json:"subject"`

	body     *template.Template
	eligible func(u user.Record, now time.Time) bool
}

func (t Template) Eligible(u user.Record, now time.Time) bool {
	return t.eligible(u, now)
}

type renderData struct {
	Name  string
	Email string
}

func (t Template) Render(u user.Record) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, renderData{Name: u.DisplayName(), Email: u.Email}); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Key, err)
	}
	return buf.String(), nil
}

func ageAtLeast(u user.Record, now time.Time, days int) bool {
	age, ok := lifecycle.AgeInDays(u, now)
	return ok && age >= days
}

var templates = []Template{
	{
		Key:         WelcomeSignup,
		Name:        "Welcome Signup",
		Description: "Sent immediately when user signs up",
		Trigger:     "on_signup",
		Subject:     "Welcome to TripWell",
		body:        template.Must(template.New("welcomeSignup").Parse(`<p>Hi {{.Name}},</p><p>Welcome to TripWell! Set up your profile and start planning your first trip.</p>`)),
		eligible: func(u user.Record, now time.Time) bool {
			age, ok := lifecycle.AgeInDays(u, now)
			return ok && age <= 1
		},
	},
	{
		Key:         ProfileReminder,
		Name:        "Profile Reminder",
		Description: "Sent 3 days after signup if no profile",
		Trigger:     "day_3_no_profile",
		Subject:     "Finish setting up your TripWell profile",
		body:        template.Must(template.New("profileReminder").Parse(`<p>Hi {{.Name}},</p><p>Your profile is almost ready. It only takes a minute to finish.</p>`)),
		eligible: func(u user.Record, now time.Time) bool {
			return !u.ProfileComplete && ageAtLeast(u, now, profileReminderDay) && !ageAtLeast(u, now, deletionWarningDay)
		},
	},
	{
		Key:         DeletionWarning,
		Name:        "Deletion Warning",
		Description: "Sent 14 days after signup if no profile",
		Trigger:     "day_14_no_profile",
		Subject:     "Your TripWell account will be removed soon",
		body:        template.Must(template.New("deletionWarning").Parse(`<p>Hi {{.Name}},</p><p>We haven't seen a profile for {{.Email}} yet. Unfinished accounts are removed after a few more days.</p>`)),
		eligible: func(u user.Record, now time.Time) bool {
			return !u.ProfileComplete && !u.HasTrip() && ageAtLeast(u, now, deletionWarningDay)
		},
	},
	{
		Key:         TripUpcoming,
		Name:        "Trip Upcoming",
		Description: "Sent 7 days before trip starts",
		Trigger:     "trip_7_days_away",
		Subject:     "Your trip is coming up",
		body:        template.Must(template.New("tripUpcoming").Parse(`<p>Hi {{.Name}},</p><p>Your trip is almost here. Check your itinerary in TripWell.</p>`)),
		// records carry no trip start date; an open trip is the closest signal
		eligible: func(u user.Record, now time.Time) bool {
			status := lifecycle.TripStatusOf(u)
			return status == lifecycle.TripPlanning || status == lifecycle.TripActive
		},
	},
	{
		Key:         WelcomeBack,
		Name:        "Welcome Back",
		Description: "Sent after 30 days of inactivity",
		Trigger:     "inactive_30_days",
		Subject:     "We miss you at TripWell",
		body:        template.Must(template.New("welcomeBack").Parse(`<p>Hi {{.Name}},</p><p>It's been a while. Your trips are waiting for you.</p>`)),
		eligible: func(u user.Record, now time.Time) bool {
			return u.LastActiveAt != nil && now.Sub(*u.LastActiveAt) >= inactiveDays*24*time.Hour
		},
	},
}

// Templates lists every template in display order.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

func Lookup(key TemplateKey) (Template, error) {
	for _, t := range templates {
		if t.Key == key {
			return t, nil
		}
	}
	return Template{}, ErrUnknownTemplate
}

// Eligible filters users down to those the template applies to at now.
func Eligible(t Template, users []user.Record, now time.Time) []user.Record {
	out := make([]user.Record, 0)
	for _, u := range users {
		if t.Eligible(u, now) {
			out = append(out, u)
		}
	}
	return out
}
