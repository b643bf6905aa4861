package scoring

import (
	"fmt"
	"strings"
)

// Explain renders a human-readable breakdown of r.
func Explain(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Score: %.2f\n", r.Total)
	fmt.Fprintf(&b, "Rank: %d\n\nScore Breakdown:\n", r.Rank)
	line := func(name string, score, weight float64) {
		fmt.Fprintf(&b, "- %s: %g × %g%% = %.1f\n", name, score, weight, score*weight/100)
	}
	line("Membership Tier", r.Breakdown.Membership, r.Weights.Membership)
	line("Performance", r.Breakdown.Performance, r.Weights.Performance)
	line("Proximity", r.Breakdown.Proximity, r.Weights.Proximity)
	line("Specialization", r.Breakdown.Specialization, r.Weights.Specialization)
	line("Availability", r.Breakdown.Availability, r.Weights.Availability)
	line("Workload", r.Breakdown.Workload, r.Weights.Workload)
	line("Response Time", r.Breakdown.ResponseTime, r.Weights.ResponseTime)
	line("Emergency Bonus", r.Breakdown.Emergency, r.Weights.Emergency)
	if r.FairnessPenalty > 0 {
		fmt.Fprintf(&b, "- Fairness Penalty: -%g\n", r.FairnessPenalty)
	}
	fmt.Fprintf(&b, "\nDistance: %gkm (%d min travel time)", r.DistanceKm, r.TravelTimeMinutes)
	return b.String()
}
