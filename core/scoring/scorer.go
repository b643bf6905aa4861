// Package scoring ranks contractors for a lead using weighted sub-scores,
// dynamic weighting and a fairness penalty.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/kilianp07/leadroute/core/geo"
	"github.com/kilianp07/leadroute/core/model"
)

// Config tunes the scorer.
type Config struct {
	// Weights overrides the matching DefaultWeights entries. Zero fields
	// keep their default.
	Weights             *Weights            `json:"weights,omitempty"`
	HighValueThreshold  float64             `json:"high_value_threshold"`
	SpecializedServices []model.ServiceType `json:"specialized_services"`
	// MaxFairnessPenalty caps the penalty subtracted for recent distributions.
	MaxFairnessPenalty float64 `json:"max_fairness_penalty"`
	// FairnessStep is the penalty per recent distribution.
	FairnessStep float64 `json:"fairness_step"`
}

func (c *Config) setDefaults() {
	if c.HighValueThreshold <= 0 {
		c.HighValueThreshold = DefaultHighValueThreshold
	}
	if len(c.SpecializedServices) == 0 {
		c.SpecializedServices = DefaultSpecializedServices()
	}
	if c.MaxFairnessPenalty <= 0 {
		c.MaxFairnessPenalty = 20
	}
	if c.FairnessStep <= 0 {
		c.FairnessStep = 2
	}
}

// SetDefaults applies default thresholds.
func (c *Config) SetDefaults() { c.setDefaults() }

// BaseWeights returns DefaultWeights merged with the configured overrides.
func (c Config) BaseWeights() Weights {
	if c.Weights == nil {
		return DefaultWeights()
	}
	return DefaultWeights().Merge(*c.Weights)
}

// Result is one scored contractor.
type Result struct {
	ContractorID      string           `json:"contractor_id"`
	Contractor        model.Contractor `json:"-"`
	Total             float64          `json:"total"`
	Breakdown         Breakdown        `json:"breakdown"`
	Weights           Weights          `json:"weights"`
	DistanceKm        float64          `json:"distance_km"`
	TravelTimeMinutes int              `json:"travel_time_minutes"`
	FairnessPenalty   float64          `json:"fairness_penalty,omitempty"`
	Rank              int              `json:"rank"`
}

// Scorer computes priority scores. It holds no mutable state.
type Scorer struct {
	cfg   Config
	clock func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock replaces time.Now, used for availability decay.
func WithClock(clock func() time.Time) Option {
	return func(s *Scorer) { s.clock = clock }
}

// NewScorer returns a Scorer using cfg.
func NewScorer(cfg Config, opts ...Option) *Scorer {
	cfg.setDefaults()
	s := &Scorer{cfg: cfg, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// WeightsFor returns the dynamic weight table for lead.
func (s *Scorer) WeightsFor(lead *model.Lead) Weights {
	return DynamicWeights(s.cfg.BaseWeights(), lead, s.cfg)
}

// Eligible reports whether c may be scored for lead and returns its distance.
// A contractor must be available, offer a required or related service and
// lie within its own service radius.
func Eligible(lead *model.Lead, c model.Contractor) (float64, bool) {
	if !c.Available {
		return 0, false
	}
	if !serviceMatch(lead.Services, c) {
		return 0, false
	}
	d := geo.Distance(lead.Location, c.Location)
	if d > c.ServiceRadiusKm {
		return d, false
	}
	return d, true
}

func serviceMatch(required []model.ServiceType, c model.Contractor) bool {
	for _, s := range required {
		if c.Offers(s) || hasRelated(s, c) {
			return true
		}
	}
	return false
}

// CalculatePriorityScores scores every eligible contractor with the lead's
// dynamic weights and returns them ranked. Ineligible contractors are
// omitted.
func (s *Scorer) CalculatePriorityScores(lead *model.Lead, contractors []model.Contractor) []Result {
	return s.score(lead, contractors, s.WeightsFor(lead))
}

// ScoreWithWeights is CalculatePriorityScores with an explicit weight table.
func (s *Scorer) ScoreWithWeights(lead *model.Lead, contractors []model.Contractor, w Weights) []Result {
	return s.score(lead, contractors, w)
}

func (s *Scorer) score(lead *model.Lead, contractors []model.Contractor, w Weights) []Result {
	now := s.clock()
	out := make([]Result, 0, len(contractors))
	for _, c := range contractors {
		d, ok := Eligible(lead, c)
		if !ok {
			continue
		}
		b := Breakdown{
			Membership:     membershipScore(c.Tier),
			Performance:    performanceScore(c),
			Proximity:      proximityScore(d),
			Specialization: specializationScore(lead.Services, c),
			Availability:   availabilityScore(c.LastActiveAt, now),
			Workload:       workloadScore(c.Workload),
			ResponseTime:   responseTimeScore(c.AvgResponseMinutes),
			Emergency:      emergencyScore(lead.Priority, lead.Emergency),
		}
		out = append(out, Result{
			ContractorID:      c.ID,
			Contractor:        c,
			Total:             b.Weighted(w),
			Breakdown:         b,
			Weights:           w,
			DistanceKm:        d,
			TravelTimeMinutes: geo.EstimateTravelTime(d),
		})
	}
	rank(out)
	return out
}

// ApplyFairness subtracts a capped penalty per recent distribution, re-sorts,
// truncates to limit (when positive) and re-ranks. The input is not modified.
func (s *Scorer) ApplyFairness(results []Result, recent map[string]int, limit int) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	for i := range out {
		n := recent[out[i].ContractorID]
		if n <= 0 {
			continue
		}
		p := math.Min(s.cfg.MaxFairnessPenalty, float64(n)*s.cfg.FairnessStep)
		out[i].FairnessPenalty = p
		out[i].Total = round2(out[i].Total - p)
	}
	rank(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rank sorts by total descending, distance ascending, then id, and assigns
// 1-based ranks.
func rank(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Total != rs[j].Total {
			return rs[i].Total > rs[j].Total
		}
		if rs[i].DistanceKm != rs[j].DistanceKm {
			return rs[i].DistanceKm < rs[j].DistanceKm
		}
		return rs[i].ContractorID < rs[j].ContractorID
	})
	for i := range rs {
		rs[i].Rank = i + 1
	}
}
