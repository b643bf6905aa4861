package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/model"
)

var brisbane = model.Point{Lat: -27.4698, Lng: 153.0251}

func TestDistanceSymmetricAndZero(t *testing.T) {
	points := []model.Point{
		brisbane,
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: -37.8136, Lng: 144.9631},
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: 0, Lng: 0},
	}
	for _, a := range points {
		assert.Equal(t, 0.0, Distance(a, a))
		for _, b := range points {
			assert.Equal(t, Distance(a, b), Distance(b, a))
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	sydney := model.Point{Lat: -33.8688, Lng: 151.2093}
	d := Distance(brisbane, sydney)
	assert.InDelta(t, 732, d, 5)
	assert.Equal(t, d, round2(d))
}

func TestFilterByRadiusHonoursOwnRadius(t *testing.T) {
	cs := []model.Contractor{
		{ID: "far-small", Location: model.Point{Lat: -27.5000, Lng: 153.0000}, ServiceRadiusKm: 1},
		{ID: "near", Location: brisbane, ServiceRadiusKm: 30},
		{ID: "mid", Location: model.Point{Lat: -27.5000, Lng: 153.0000}, ServiceRadiusKm: 25},
	}
	got := FilterByRadius(brisbane, cs, 100)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Contractor.ID)
	assert.Equal(t, "mid", got[1].Contractor.ID)
	for _, r := range got {
		assert.LessOrEqual(t, r.DistanceKm, r.Contractor.ServiceRadiusKm)
	}
}

func TestFilterByRadiusStableTies(t *testing.T) {
	p := model.Point{Lat: -27.48, Lng: 153.03}
	cs := []model.Contractor{
		{ID: "b", Location: p, ServiceRadiusKm: 10},
		{ID: "a", Location: p, ServiceRadiusKm: 10},
		{ID: "c", Location: p, ServiceRadiusKm: 10},
	}
	got := FilterByRadius(p, cs, 5)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].Contractor.ID, got[1].Contractor.ID, got[2].Contractor.ID})
}

func TestEstimateTravelTime(t *testing.T) {
	assert.Equal(t, 10, EstimateTravelTime(0))
	assert.Equal(t, 15, EstimateTravelTime(4))  // 4.8 + 10
	assert.Equal(t, 27, EstimateTravelTime(10)) // 12 + 15
	assert.Equal(t, 44, EstimateTravelTime(20)) // 24 + 20
	assert.Equal(t, 80, EstimateTravelTime(50))
}

func TestPriorityMultiplierNonIncreasing(t *testing.T) {
	prev := PriorityMultiplier(0)
	assert.Equal(t, 1.5, prev)
	for km := 0.0; km <= 120; km += 0.5 {
		m := PriorityMultiplier(km)
		assert.LessOrEqual(t, m, prev, "km=%v", km)
		prev = m
	}
	assert.Equal(t, 1.5, PriorityMultiplier(5))
	assert.Equal(t, 1.2, PriorityMultiplier(5.01))
	assert.Equal(t, 1.0, PriorityMultiplier(30))
	assert.Equal(t, 0.8, PriorityMultiplier(50))
	assert.Equal(t, 0.6, PriorityMultiplier(50.01))
}

func TestCentroid(t *testing.T) {
	_, ok := Centroid(nil)
	assert.False(t, ok)

	c, ok := Centroid([]model.Point{brisbane})
	require.True(t, ok)
	assert.Equal(t, brisbane, c)

	c, ok = Centroid([]model.Point{{Lat: 0, Lng: 0}, {Lat: 2, Lng: 4}, {Lat: 4, Lng: 2}})
	require.True(t, ok)
	assert.InDelta(t, 2, c.Lat, 1e-9)
	assert.InDelta(t, 2, c.Lng, 1e-9)
}

func TestPointInPolygonConcave(t *testing.T) {
	// U shape open at the top between lng 1 and 2.
	u := []model.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 3}, {Lat: 3, Lng: 3}, {Lat: 3, Lng: 2},
		{Lat: 1, Lng: 2}, {Lat: 1, Lng: 1}, {Lat: 3, Lng: 1}, {Lat: 3, Lng: 0},
	}
	assert.True(t, PointInPolygon(model.Point{Lat: 0.5, Lng: 1.5}, u))
	assert.True(t, PointInPolygon(model.Point{Lat: 2, Lng: 0.5}, u))
	assert.False(t, PointInPolygon(model.Point{Lat: 2, Lng: 1.5}, u))
	assert.False(t, PointInPolygon(model.Point{Lat: 5, Lng: 5}, u))
	assert.False(t, PointInPolygon(model.Point{Lat: 0, Lng: 0}, u[:2]))
}

func TestMatchContractorsBrisbaneScenario(t *testing.T) {
	cs := []model.Contractor{
		{ID: "test-2", Location: model.Point{Lat: -27.5000, Lng: 153.0000}, ServiceRadiusKm: 25, Available: true},
		{ID: "test-1", Location: brisbane, ServiceRadiusKm: 30, Available: true},
	}
	got := MatchContractors(brisbane, cs, MatchOptions{MaxDistanceKm: 25, SortByDistance: true})
	require.Len(t, got, 2)
	assert.Equal(t, "test-1", got[0].Contractor.ID)
	assert.Equal(t, 0.0, got[0].DistanceKm)
	assert.Equal(t, 1.5, got[0].Multiplier)
	assert.Equal(t, "test-2", got[1].Contractor.ID)
	assert.InDelta(t, 4.2, got[1].DistanceKm, 0.5)
}

func TestMatchContractorsSkipsUnavailable(t *testing.T) {
	cs := []model.Contractor{{ID: "x", Location: brisbane, ServiceRadiusKm: 10}}
	assert.Empty(t, MatchContractors(brisbane, cs, MatchOptions{}))
	assert.Len(t, MatchContractors(brisbane, cs, MatchOptions{IncludeUnavailable: true}), 1)
}
