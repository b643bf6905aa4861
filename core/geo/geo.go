// Package geo implements distance, radius and service-area calculations used
// to match leads with contractors.
package geo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/leadroute/core/model"
)

const (
	earthRadiusKm = 6371.0
	// AverageSpeedKmh is the assumed mean driving speed for travel estimates.
	AverageSpeedKmh = 50.0
)

// Distance returns the great-circle distance between a and b in kilometres,
// rounded to two decimals.
func Distance(a, b model.Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return round2(earthRadiusKm * c)
}

// WithinRadius reports whether p lies inside the contractor's own service radius.
func WithinRadius(p model.Point, c model.Contractor) bool {
	return Distance(p, c.Location) <= c.ServiceRadiusKm
}

// Ranked pairs a contractor with its distance from a reference point.
type Ranked struct {
	Contractor model.Contractor
	DistanceKm float64
}

// FilterByRadius keeps contractors within both maxRadiusKm and their own
// service radius, sorted by ascending distance. Ties keep input order.
func FilterByRadius(p model.Point, contractors []model.Contractor, maxRadiusKm float64) []Ranked {
	out := make([]Ranked, 0, len(contractors))
	for _, c := range contractors {
		d := Distance(p, c.Location)
		if d > maxRadiusKm || d > c.ServiceRadiusKm {
			continue
		}
		out = append(out, Ranked{Contractor: c, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// EstimateTravelTime converts a distance into minutes of driving, adding a
// buffer for urban, suburban and highway conditions.
func EstimateTravelTime(km float64) int {
	base := km / AverageSpeedKmh * 60
	var buffer float64
	switch {
	case km < 5:
		buffer = 10
	case km < 20:
		buffer = 15
	default:
		buffer = 20
	}
	return int(math.Round(base + buffer))
}

// PriorityMultiplier is a step function favouring nearby contractors.
func PriorityMultiplier(km float64) float64 {
	switch {
	case km <= 5:
		return 1.5
	case km <= 15:
		return 1.2
	case km <= 30:
		return 1.0
	case km <= 50:
		return 0.8
	default:
		return 0.6
	}
}

// Centroid returns the arithmetic mean of points. ok is false for empty input.
func Centroid(points []model.Point) (model.Point, bool) {
	if len(points) == 0 {
		return model.Point{}, false
	}
	if len(points) == 1 {
		return points[0], true
	}
	lats := make([]float64, len(points))
	lngs := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Lat
		lngs[i] = p.Lng
	}
	return model.Point{Lat: stat.Mean(lats, nil), Lng: stat.Mean(lngs, nil)}, true
}

// PointInPolygon applies the ray-casting test to an ordered vertex list.
// The polygon need not be convex and is implicitly closed.
func PointInPolygon(p model.Point, vertices []model.Point) bool {
	if len(vertices) < 3 {
		return false
	}
	inside := false
	j := len(vertices) - 1
	for i := range vertices {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lng < (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			inside = !inside
		}
		j = i
	}
	return inside
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
