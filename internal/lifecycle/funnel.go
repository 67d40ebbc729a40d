package lifecycle

import (
	"math"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

type FunnelSplit struct {
	FunnelUsers  []user.Record `json:"funnelUsers"`
	FullAppUsers []user.Record `json:"fullAppUsers"`
}

// FunnelPartition splits users into pre-conversion (funnel) and full-app users. Every input
// lands in exactly one side and input order is preserved.
func FunnelPartition(users []user.Record) FunnelSplit {
	out := FunnelSplit{
		FunnelUsers:  make([]user.Record, 0),
		FullAppUsers: make([]user.Record, 0, len(users)),
	}

	for _, u := range users {
		if u.FunnelStage.IsFullApp() {
			out.FullAppUsers = append(out.FullAppUsers, u)
			continue
		}
		out.FunnelUsers = append(out.FunnelUsers, u)
	}
	return out
}

type StageStat struct {
	Count          int     `json:"count"`
	PercentOfTotal float64 `json:"percentOfTotal"`
}

type FunnelStats struct {
	Total  int                            `json:"total"`
	Stages map[user.FunnelStage]StageStat `json:"stages"`
}

// FunnelConversionStats counts funnel users per stage. Known stages are always present;
// percentages are rounded to one decimal and are zero for an empty input.
func FunnelConversionStats(funnelUsers []user.Record) FunnelStats {
	stats := FunnelStats{
		Total:  len(funnelUsers),
		Stages: make(map[user.FunnelStage]StageStat, len(user.FunnelStages)),
	}
	for _, s := range user.FunnelStages {
		stats.Stages[s] = StageStat{}
	}

	for _, u := range funnelUsers {
		if u.FunnelStage.IsFullApp() {
			continue
		}
		st := stats.Stages[u.FunnelStage]
		st.Count++
		stats.Stages[u.FunnelStage] = st
	}

	for stage, st := range stats.Stages {
		st.PercentOfTotal = percentOneDecimal(st.Count, stats.Total)
		stats.Stages[stage] = st
	}
	return stats
}

func percentOneDecimal(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func percentWhole(n, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}

type Potential string

const (
	PotentialHigh    Potential = "High"
	PotentialMedium  Potential = "Medium"
	PotentialLow     Potential = "Low"
	PotentialVeryLow Potential = "Very Low"
	PotentialUnknown Potential = "Unknown"
)

// ConversionPotential rates how likely a funnel user is to convert, by account age.
func ConversionPotential(u user.Record, now time.Time) Potential {
	days, ok := AgeInDays(u, now)
	switch {
	case !ok:
		return PotentialUnknown
	case days <= 1:
		return PotentialHigh
	case days <= 3:
		return PotentialMedium
	case days <= 7:
		return PotentialLow
	default:
		return PotentialVeryLow
	}
}

type JourneyMetrics struct {
	TotalUsers        int `json:"totalUsers"`
	NewUsers          int `json:"newUsers"`
	ProfileComplete   int `json:"profileComplete"`
	HasTrip           int `json:"hasTrip"`
	ActiveUsers       int `json:"activeUsers"`
	AbandonedUsers    int `json:"abandonedUsers"`
	ProfileConversion int `json:"profileConversion"`
	TripConversion    int `json:"tripConversion"`
	ActiveConversion  int `json:"activeConversion"`
}

// Journey summarizes full-app users. New users are those with a known age inside the grace
// period; active and abandoned counts follow the supplied policy's labels.
func Journey(users []user.Record, now time.Time, policy Policy, graceDays int) JourneyMetrics {
	if graceDays <= 0 {
		graceDays = DefaultGracePeriodDays
	}

	m := JourneyMetrics{TotalUsers: len(users)}
	for _, u := range users {
		if days, ok := AgeInDays(u, now); ok && days <= graceDays {
			m.NewUsers++
		}
		if u.ProfileComplete {
			m.ProfileComplete++
		}
		if u.HasTrip() {
			m.HasTrip++
		}

		switch policy.Evaluate(u, now).Label {
		case LabelActive:
			m.ActiveUsers++
		case LabelAbandoned:
			m.AbandonedUsers++
		}
	}

	m.ProfileConversion = percentWhole(m.ProfileComplete, m.TotalUsers)
	m.TripConversion = percentWhole(m.HasTrip, m.TotalUsers)
	m.ActiveConversion = percentWhole(m.ActiveUsers, m.TotalUsers)
	return m
}
