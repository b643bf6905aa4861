package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/model"
)

var (
	now      = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	brisbane = model.Point{Lat: -27.4698, Lng: 153.0251}
)

func fixedScorer(cfg Config) *Scorer {
	return NewScorer(cfg, WithClock(func() time.Time { return now }))
}

func topContractor(id string) model.Contractor {
	return model.Contractor{
		ID:                 id,
		Tier:               model.TierFranchise,
		Rating:             5,
		CompletionRate:     1,
		ServiceRadiusKm:    50,
		Specializations:    []model.ServiceType{model.ServiceWaterDamage},
		Location:           brisbane,
		LastActiveAt:       now,
		Available:          true,
		AvgResponseMinutes: 10,
	}
}

func waterLead() *model.Lead {
	return &model.Lead{ID: "l1", Services: []model.ServiceType{model.ServiceWaterDamage},
		Priority: model.PriorityMedium, Location: brisbane}
}

func TestDefaultWeightsSumTo100(t *testing.T) {
	assert.Equal(t, 100.0, DefaultWeights().Sum())
}

func TestCalculatePriorityScoresTotal(t *testing.T) {
	s := fixedScorer(Config{})
	res := s.CalculatePriorityScores(waterLead(), []model.Contractor{topContractor("c1")})
	require.Len(t, res, 1)
	assert.Equal(t, 9880.0, res[0].Total)
	assert.Equal(t, 1, res[0].Rank)
	assert.Equal(t, 10, res[0].TravelTimeMinutes)
}

func TestSubScoreTables(t *testing.T) {
	assert.Equal(t, 80.0, membershipScore(model.TierEnterprise))
	assert.Equal(t, 40.0, membershipScore(model.TierFoundation))
	assert.Equal(t, 100.0, performanceScore(model.Contractor{Rating: 5, CompletionRate: 1}))
	assert.InDelta(t, 36+20, performanceScore(model.Contractor{Rating: 3, CompletionRate: 0.5}), 1e-9)
	assert.Equal(t, 90.0, proximityScore(7))
	assert.Equal(t, 5.0, proximityScore(101))
	assert.Equal(t, 75.0, availabilityScore(now.Add(-6*time.Hour), now))
	assert.Equal(t, 20.0, availabilityScore(now.Add(-100*time.Hour), now))
	assert.Equal(t, 80.0, workloadScore(2))
	assert.Equal(t, 5.0, workloadScore(9))
	assert.Equal(t, 50.0, responseTimeScore(90))
	assert.Equal(t, 5.0, responseTimeScore(600))
	assert.Equal(t, 100.0, emergencyScore(model.PriorityLow, true))
	assert.Equal(t, 80.0, emergencyScore(model.PriorityUrgent, false))
	assert.Equal(t, 20.0, emergencyScore(model.PriorityLow, false))
}

func TestSpecializationScore(t *testing.T) {
	mould := model.Contractor{Specializations: []model.ServiceType{model.ServiceMouldRemediation}}
	assert.Equal(t, 70.0, specializationScore([]model.ServiceType{model.ServiceWaterDamage}, mould))
	assert.Equal(t, 70.0, specializationScore([]model.ServiceType{model.ServiceFireDamage, model.ServiceWaterDamage}, mould))
	assert.Equal(t, 40.0, specializationScore([]model.ServiceType{model.ServiceFireDamage}, mould))
	assert.Equal(t, 0.0, specializationScore([]model.ServiceType{model.ServiceFireDamage}, model.Contractor{}))
}

func TestIneligibleContractorsNeverScored(t *testing.T) {
	unavailable := topContractor("unavailable")
	unavailable.Available = false
	wrongTrade := topContractor("wrong-trade")
	wrongTrade.Specializations = []model.ServiceType{model.ServiceAsbestosRemoval}
	outside := topContractor("outside")
	outside.Location = model.Point{Lat: -27.9, Lng: 153.3}
	outside.ServiceRadiusKm = 10
	cs := []model.Contractor{unavailable, wrongTrade, outside, topContractor("ok")}

	for _, lead := range []*model.Lead{
		waterLead(),
		{ID: "e", Services: []model.ServiceType{model.ServiceWaterDamage}, Emergency: true, Location: brisbane},
		{ID: "v", Services: []model.ServiceType{model.ServiceWaterDamage}, EstimatedValue: 90000, Location: brisbane},
	} {
		res := fixedScorer(Config{}).CalculatePriorityScores(lead, cs)
		require.Len(t, res, 1, lead.ID)
		assert.Equal(t, "ok", res[0].ContractorID)
	}
	zeroSpec := Weights{Membership: 100}
	res := fixedScorer(Config{}).ScoreWithWeights(waterLead(), cs, zeroSpec)
	require.Len(t, res, 1)
}

func TestRankingTieBreaks(t *testing.T) {
	a := topContractor("b-id")
	b := topContractor("a-id")
	near := topContractor("near")
	near.Location = model.Point{Lat: -27.4700, Lng: 153.0251}
	far := topContractor("far")
	far.Location = model.Point{Lat: -27.4900, Lng: 153.0251}
	res := fixedScorer(Config{}).CalculatePriorityScores(waterLead(), []model.Contractor{far, a, near, b})
	require.Len(t, res, 4)
	ids := []string{res[0].ContractorID, res[1].ContractorID, res[2].ContractorID, res[3].ContractorID}
	assert.Equal(t, []string{"a-id", "b-id", "near", "far"}, ids)
	for i, r := range res {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestDynamicWeightsArePure(t *testing.T) {
	base := DefaultWeights()
	lead := &model.Lead{Emergency: true, EstimatedValue: 60000,
		Services: []model.ServiceType{model.ServiceBiohazardCleaning}}
	w := DynamicWeights(base, lead, Config{})
	assert.Equal(t, DefaultWeights(), base)
	assert.Equal(t, Weights{
		Membership:     25 - 15 + 10 - 5,
		Performance:    20 - 10 + 10 - 5,
		Proximity:      15 + 10 - 10 - 5,
		Specialization: 15 + 15,
		Availability:   10 + 10 - 5,
		Workload:       8 - 5,
		ResponseTime:   5 + 5,
		Emergency:      2,
	}, w)

	plain := DynamicWeights(base, waterLead(), Config{})
	assert.Equal(t, base, plain)

	atThreshold := DynamicWeights(base, &model.Lead{EstimatedValue: 50000}, Config{})
	assert.Equal(t, base, atThreshold)
}

func TestEmergencyWeightingFavoursCloserContractor(t *testing.T) {
	nearby := topContractor("close")
	far := topContractor("far")
	far.Location = model.Point{Lat: -27.5778, Lng: 153.0251} // about 12 km south
	lead := waterLead()
	lead.Emergency = true

	s := fixedScorer(Config{})
	def := s.ScoreWithWeights(lead, []model.Contractor{nearby, far}, DefaultWeights())
	dyn := s.CalculatePriorityScores(lead, []model.Contractor{nearby, far})
	require.Len(t, def, 2)
	require.Len(t, dyn, 2)
	require.Equal(t, "close", def[0].ContractorID)
	require.Equal(t, "close", dyn[0].ContractorID)
	assert.Greater(t, dyn[0].Total-dyn[1].Total, def[0].Total-def[1].Total)
}

func TestApplyFairnessResortsAndTruncates(t *testing.T) {
	s := fixedScorer(Config{})
	in := []Result{
		{ContractorID: "busy", Total: 100, Rank: 1},
		{ContractorID: "idle", Total: 95, Rank: 2},
		{ContractorID: "other", Total: 50, Rank: 3},
	}
	out := s.ApplyFairness(in, map[string]int{"busy": 50}, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "idle", out[0].ContractorID)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, "busy", out[1].ContractorID)
	assert.Equal(t, 80.0, out[1].Total)
	assert.Equal(t, 20.0, out[1].FairnessPenalty)
	assert.Equal(t, 100.0, in[0].Total)
}

func TestFairnessEqualScoresPenalisesRecentlyNotified(t *testing.T) {
	s := fixedScorer(Config{})
	raw := s.CalculatePriorityScores(waterLead(), []model.Contractor{topContractor("x"), topContractor("y")})
	require.Equal(t, "x", raw[0].ContractorID)
	out := s.ApplyFairness(raw, map[string]int{"x": 1}, 0)
	assert.Equal(t, "y", out[0].ContractorID)
	assert.Equal(t, raw[0].Total-2, out[1].Total)
}

func TestBaseWeightsMergeOverrides(t *testing.T) {
	assert.Equal(t, DefaultWeights(), Config{}.BaseWeights())

	w := Config{Weights: &Weights{Proximity: 30}}.BaseWeights()
	want := DefaultWeights()
	want.Proximity = 30
	assert.Equal(t, want, w)
	assert.Equal(t, 115.0, w.Sum())

	assert.Equal(t, DefaultWeights(), Config{Weights: &Weights{}}.BaseWeights())
}

func TestAddKeepsNegativeDeltas(t *testing.T) {
	base := Weights{Membership: 5, Performance: 5, Proximity: 40}
	w := DynamicWeights(base, &model.Lead{Emergency: true}, Config{})
	assert.Equal(t, 5.0-15, w.Membership)
	assert.Equal(t, 5.0-10, w.Performance)
	assert.Equal(t, 50.0, w.Proximity)
	assert.Equal(t, base.Sum()+urgentDelta.Sum(), w.Sum())
}

func TestExplain(t *testing.T) {
	res := fixedScorer(Config{}).CalculatePriorityScores(waterLead(), []model.Contractor{topContractor("c1")})
	txt := Explain(res[0])
	assert.True(t, strings.HasPrefix(txt, "Total Score: 9880.00"))
	assert.Contains(t, txt, "- Membership Tier: 100 × 25% = 25.0")
	assert.Contains(t, txt, "Distance: 0km (10 min travel time)")
}
