package scoring

import (
	"math"
	"time"

	"github.com/kilianp07/leadroute/core/model"
)

// Breakdown holds the eight normalised sub-scores in [0,100].
type Breakdown struct {
	Membership     float64 `json:"membership"`
	Performance    float64 `json:"performance"`
	Proximity      float64 `json:"proximity"`
	Specialization float64 `json:"specialization"`
	Availability   float64 `json:"availability"`
	Workload       float64 `json:"workload"`
	ResponseTime   float64 `json:"response_time"`
	Emergency      float64 `json:"emergency"`
}

// Weighted returns Σ sub-score × weight rounded to two decimals.
func (b Breakdown) Weighted(w Weights) float64 {
	total := b.Membership*w.Membership +
		b.Performance*w.Performance +
		b.Proximity*w.Proximity +
		b.Specialization*w.Specialization +
		b.Availability*w.Availability +
		b.Workload*w.Workload +
		b.ResponseTime*w.ResponseTime +
		b.Emergency*w.Emergency
	return round2(total)
}

func membershipScore(t model.Tier) float64 {
	switch t {
	case model.TierFranchise:
		return 100
	case model.TierEnterprise:
		return 80
	case model.TierProfessional:
		return 60
	case model.TierFoundation:
		return 40
	default:
		return 0
	}
}

func performanceScore(c model.Contractor) float64 {
	return math.Min(100, c.Rating/5*60+c.CompletionRate*40)
}

func proximityScore(km float64) float64 {
	switch {
	case km <= 5:
		return 100
	case km <= 10:
		return 90
	case km <= 20:
		return 75
	case km <= 35:
		return 60
	case km <= 50:
		return 40
	case km <= 75:
		return 25
	case km <= 100:
		return 15
	default:
		return 5
	}
}

// specializationScore takes the best match over all required services.
func specializationScore(required []model.ServiceType, c model.Contractor) float64 {
	best := 0.0
	for _, s := range required {
		var v float64
		switch {
		case c.Offers(s):
			v = 100
		case hasRelated(s, c):
			v = 70
		case len(c.Specializations) > 0:
			v = 40
		}
		best = math.Max(best, v)
	}
	return best
}

func hasRelated(required model.ServiceType, c model.Contractor) bool {
	for _, offered := range c.Specializations {
		if model.IsRelated(required, offered) {
			return true
		}
	}
	return false
}

func availabilityScore(lastActive, now time.Time) float64 {
	h := now.Sub(lastActive).Hours()
	switch {
	case h <= 1:
		return 100
	case h <= 4:
		return 90
	case h <= 12:
		return 75
	case h <= 24:
		return 60
	case h <= 72:
		return 40
	default:
		return 20
	}
}

func workloadScore(open int) float64 {
	switch {
	case open <= 0:
		return 100
	case open <= 2:
		return 80
	case open <= 4:
		return 60
	case open <= 6:
		return 40
	case open <= 8:
		return 20
	default:
		return 5
	}
}

func responseTimeScore(minutes float64) float64 {
	switch {
	case minutes <= 15:
		return 100
	case minutes <= 30:
		return 85
	case minutes <= 60:
		return 70
	case minutes <= 120:
		return 50
	case minutes <= 240:
		return 30
	case minutes <= 480:
		return 15
	default:
		return 5
	}
}

func emergencyScore(p model.Priority, emergency bool) float64 {
	if emergency {
		return 100
	}
	switch p {
	case model.PriorityUrgent:
		return 80
	case model.PriorityHigh:
		return 60
	case model.PriorityMedium:
		return 40
	default:
		return 20
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
