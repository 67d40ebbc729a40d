package lifecycle

import (
	"testing"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

func TestTripStatusOf(t *testing.T) {
	tests := []struct {
		name string
		rec  user.Record
		want TripStatus
	}{
		{name: "no trip", rec: user.Record{}, want: TripNone},
		{name: "active", rec: user.Record{TripID: "t1"}, want: TripActive},
		{name: "planning", rec: user.Record{TripID: "t1", TripCreatedAt: daysAgo(2)}, want: TripPlanning},
		{name: "completed", rec: user.Record{TripID: "t1", TripCreatedAt: daysAgo(9), TripCompletedAt: daysAgo(1)}, want: TripCompleted},
		{name: "completed without created stamp", rec: user.Record{TripID: "t1", TripCompletedAt: daysAgo(1)}, want: TripCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TripStatusOf(tt.rec); got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestAgeInDays(t *testing.T) {
	tests := []struct {
		name    string
		created *time.Time
		want    int
		wantOK  bool
	}{
		{name: "unknown", created: nil, wantOK: false},
		{name: "same instant", created: &now, want: 0, wantOK: true},
		{name: "exact days", created: daysAgo(15), want: 15, wantOK: true},
		{name: "partial day rounds up", created: func() *time.Time { t := now.Add(-(24*time.Hour + time.Minute)); return &t }(), want: 2, wantOK: true},
		{name: "future date counts distance", created: func() *time.Time { t := now.Add(36 * time.Hour); return &t }(), want: 2, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AgeInDays(user.Record{CreatedAt: tt.created}, now)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("days: got %d want %d", got, tt.want)
			}
		})
	}

	if s := AgeOf(user.Record{}, now).String(); s != "Unknown" {
		t.Fatalf("expected Unknown, got %q", s)
	}
}
