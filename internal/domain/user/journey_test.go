package user

import (
	"errors"
	"testing"
)

func TestValidateStage(t *testing.T) {
	cases := []struct {
		name  string
		field StageField
		value string
		want  error
	}{
		{"journey stage", FieldJourneyStage, "trip_set_done", nil},
		{"unknown journey stage", FieldJourneyStage, "trip_done", ErrUnknownJourneyStage},
		{"user state", FieldUserState, "demo_only", nil},
		{"unknown user state", FieldUserState, "dormant", ErrUnknownUserState},
		{"state is case sensitive", FieldUserState, "Active", ErrUnknownUserState},
		{"unknown field", StageField("funnelStage"), "new_user", ErrUnknownStageField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateStage(tc.field, tc.value); !errors.Is(err, tc.want) {
				t.Fatalf("ValidateStage(%q, %q) = %v, want %v", tc.field, tc.value, err, tc.want)
			}
		})
	}
}

func TestDecodeStages_ReadsNestedAndTopLevelFlags(t *testing.T) {
	body := `{"user":{
		"_id":"u1","email":"a@example.com","journeyStage":"profile_complete","userState":"Inactive",
		"engagementScore":"42.5","lastActivityAt":"2026-03-01T00:00:00Z",
		"emailVerified":true,
		"flags":{"profileComplete":true,"tripCreated":"false"}
	}}`

	st, err := DecodeStages([]byte(body))
	if err != nil {
		t.Fatalf("DecodeStages error: %v", err)
	}
	if st.User.UserID != "u1" || st.JourneyStage != JourneyProfileComplete {
		t.Fatalf("unexpected stages: %+v", st)
	}
	if st.UserState != "inactive" {
		t.Fatalf("expected normalized state inactive, got %q", st.UserState)
	}
	if st.EngagementScore == nil || *st.EngagementScore != 42.5 {
		t.Fatalf("unexpected engagement score: %v", st.EngagementScore)
	}
	if st.LastActivityAt == nil {
		t.Fatalf("expected lastActivityAt")
	}

	want := map[Flag]bool{
		FlagProfileComplete:    true,
		FlagTripCreated:        false,
		FlagItineraryComplete:  false,
		FlagEmailVerified:      true,
		FlagOnboardingComplete: false,
		FlagEmailOptIn:         false,
		FlagMarketingOptIn:     false,
	}
	if len(st.Flags) != len(want) {
		t.Fatalf("expected every flag to be reported, got %v", st.Flags)
	}
	for f, v := range want {
		if st.Flags[f] != v {
			t.Fatalf("flag %s = %v, want %v", f, st.Flags[f], v)
		}
	}
}

func TestDecodeStages_RejectsUserWithoutEmail(t *testing.T) {
	if _, err := DecodeStages([]byte(`{"_id":"u1"}`)); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestDecodeAccount_SortsTripsAndDerivesSummary(t *testing.T) {
	body := `{
		"user":{"_id":"u1","email":"a@example.com","tripId":{"$oid":"t2"},"journeyStage":"trip_set_done"},
		"trips":[
			{"_id":"t1","tripName":"Lisbon","city":"Lisbon","partyCount":"3","createdAt":"2026-01-01T00:00:00Z"},
			{"_id":"t2","tripName":"Porto","partyCount":2,"tripComplete":true,"createdAt":"2026-02-01T00:00:00Z"},
			{"_id":"t3"},
			{"tripName":"no id"}
		],
		"joinCodes":[{"code":"ABC"},{"code":"DEF"}]
	}`

	acct, err := DecodeAccount([]byte(body))
	if err != nil {
		t.Fatalf("DecodeAccount error: %v", err)
	}
	if acct.JourneyStage != JourneyTripSetDone {
		t.Fatalf("unexpected journey stage %q", acct.JourneyStage)
	}
	if len(acct.Trips) != 3 {
		t.Fatalf("expected trips without an id to be dropped, got %+v", acct.Trips)
	}

	order := []string{acct.Trips[0].TripID, acct.Trips[1].TripID, acct.Trips[2].TripID}
	if order[0] != "t2" || order[1] != "t1" || order[2] != "t3" {
		t.Fatalf("expected newest first and undated last, got %v", order)
	}
	if !acct.Trips[0].Current || acct.Trips[1].Current {
		t.Fatalf("expected only t2 to be current: %+v", acct.Trips)
	}
	if acct.Trips[1].PartyCount != 3 {
		t.Fatalf("expected string party count to parse, got %d", acct.Trips[1].PartyCount)
	}

	want := TripSummary{TotalTrips: 3, ActiveTrips: 2, CompletedTrips: 1, JoinCodesCreated: 2}
	if acct.Summary != want {
		t.Fatalf("summary = %+v, want %+v", acct.Summary, want)
	}
	if !acct.HasDuplicateTrips() || acct.SuggestedKeep() != "t2" {
		t.Fatalf("expected duplicates with t2 suggested, got %v %q", acct.HasDuplicateTrips(), acct.SuggestedKeep())
	}
}

func TestDecodeAccount_KeepsDirectorySummary(t *testing.T) {
	body := `{"user":{"_id":"u1","email":"a@example.com"},"trips":[],"summary":{"totalTrips":4,"activeTrips":1,"completedTrips":3,"joinCodesCreated":7}}`

	acct, err := DecodeAccount([]byte(body))
	if err != nil {
		t.Fatalf("DecodeAccount error: %v", err)
	}
	if acct.Summary.TotalTrips != 4 || acct.Summary.JoinCodesCreated != 7 {
		t.Fatalf("expected directory summary to be kept, got %+v", acct.Summary)
	}
	if acct.HasDuplicateTrips() || acct.SuggestedKeep() != "" {
		t.Fatalf("empty account has nothing to collapse")
	}
}

func TestDecodeAccount_RequiresUser(t *testing.T) {
	if _, err := DecodeAccount([]byte(`{"trips":[]}`)); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}
