package scoring

import "github.com/kilianp07/leadroute/core/model"

// Weights are the per-factor multipliers applied to sub-scores.
type Weights struct {
	Membership     float64 `json:"membership"`
	Performance    float64 `json:"performance"`
	Proximity      float64 `json:"proximity"`
	Specialization float64 `json:"specialization"`
	Availability   float64 `json:"availability"`
	Workload       float64 `json:"workload"`
	ResponseTime   float64 `json:"response_time"`
	Emergency      float64 `json:"emergency"`
}

// DefaultWeights sum to 100.
func DefaultWeights() Weights {
	return Weights{
		Membership:     25,
		Performance:    20,
		Proximity:      15,
		Specialization: 15,
		Availability:   10,
		Workload:       8,
		ResponseTime:   5,
		Emergency:      2,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Membership + w.Performance + w.Proximity + w.Specialization +
		w.Availability + w.Workload + w.ResponseTime + w.Emergency
}

// Add returns w plus d field by field. Results are not clamped.
func (w Weights) Add(d Weights) Weights {
	return Weights{
		Membership:     w.Membership + d.Membership,
		Performance:    w.Performance + d.Performance,
		Proximity:      w.Proximity + d.Proximity,
		Specialization: w.Specialization + d.Specialization,
		Availability:   w.Availability + d.Availability,
		Workload:       w.Workload + d.Workload,
		ResponseTime:   w.ResponseTime + d.ResponseTime,
		Emergency:      w.Emergency + d.Emergency,
	}
}

// Merge returns w with every non-zero field of over taking its place.
func (w Weights) Merge(over Weights) Weights {
	pick := func(base, o float64) float64 {
		if o != 0 {
			return o
		}
		return base
	}
	return Weights{
		Membership:     pick(w.Membership, over.Membership),
		Performance:    pick(w.Performance, over.Performance),
		Proximity:      pick(w.Proximity, over.Proximity),
		Specialization: pick(w.Specialization, over.Specialization),
		Availability:   pick(w.Availability, over.Availability),
		Workload:       pick(w.Workload, over.Workload),
		ResponseTime:   pick(w.ResponseTime, over.ResponseTime),
		Emergency:      pick(w.Emergency, over.Emergency),
	}
}

var (
	urgentDelta = Weights{Proximity: 10, Availability: 10, ResponseTime: 5, Membership: -15, Performance: -10}
	valueDelta  = Weights{Membership: 10, Performance: 10, Proximity: -10, Workload: -5, Availability: -5}
	expertDelta = Weights{Specialization: 15, Membership: -5, Proximity: -5, Performance: -5}
)

// DefaultHighValueThreshold is the estimate above which a lead counts as high value.
const DefaultHighValueThreshold = 50000

// DefaultSpecializedServices require dedicated expertise.
func DefaultSpecializedServices() []model.ServiceType {
	return []model.ServiceType{
		model.ServiceBiohazardCleaning,
		model.ServiceTraumaSceneCleaning,
		model.ServiceAsbestosRemoval,
	}
}

// DynamicWeights derives the weight table for lead from base. The base table
// is never modified. Urgent, high-value and specialised adjustments stack.
func DynamicWeights(base Weights, lead *model.Lead, cfg Config) Weights {
	cfg.setDefaults()
	w := base
	if lead.Emergency || lead.Priority == model.PriorityUrgent {
		w = w.Add(urgentDelta)
	}
	if lead.EstimatedValue > cfg.HighValueThreshold {
		w = w.Add(valueDelta)
	}
	if lead.RequiresAny(cfg.SpecializedServices...) {
		w = w.Add(expertDelta)
	}
	return w
}
