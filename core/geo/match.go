package geo

import (
	"sort"

	"github.com/kilianp07/leadroute/core/model"
)

// MatchOptions narrows MatchContractors.
type MatchOptions struct {
	MaxDistanceKm float64
	// SortByDistance orders matches nearest first; otherwise input order is kept.
	SortByDistance bool
	// IncludeUnavailable keeps contractors flagged unavailable.
	IncludeUnavailable bool
}

// Match is a contractor able to reach a location.
type Match struct {
	Contractor        model.Contractor `json:"contractor"`
	DistanceKm        float64          `json:"distance_km"`
	TravelTimeMinutes int              `json:"travel_time_minutes"`
	Multiplier        float64          `json:"multiplier"`
}

// MatchContractors returns contractors serving p, annotated with travel
// estimates. A zero MaxDistanceKm applies only each contractor's own radius.
func MatchContractors(p model.Point, contractors []model.Contractor, opts MatchOptions) []Match {
	out := make([]Match, 0, len(contractors))
	for _, c := range contractors {
		if !c.Available && !opts.IncludeUnavailable {
			continue
		}
		d := Distance(p, c.Location)
		if d > c.ServiceRadiusKm {
			continue
		}
		if opts.MaxDistanceKm > 0 && d > opts.MaxDistanceKm {
			continue
		}
		out = append(out, Match{
			Contractor:        c,
			DistanceKm:        d,
			TravelTimeMinutes: EstimateTravelTime(d),
			Multiplier:        PriorityMultiplier(d),
		})
	}
	if opts.SortByDistance {
		sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	}
	return out
}
