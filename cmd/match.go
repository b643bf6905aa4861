package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/leadroute/core/geo"
	"github.com/kilianp07/leadroute/core/model"
)

var (
	matchRadius float64
	matchArea   string
)

// matchReport is the output of the match command.
type matchReport struct {
	LeadID   string       `json:"lead_id"`
	Location model.Point  `json:"location"`
	Matches  []geo.Match  `json:"matches"`
	Centroid *model.Point `json:"centroid,omitempty"`
}

var matchCmd = &cobra.Command{
	Use:   "match <lead-id>",
	Short: "List available contractors able to reach a lead, nearest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := parseArea(matchArea)
		if err != nil {
			return err
		}
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		lead, err := svc.Store.FindLead(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		contractors, err := svc.Store.ListAvailableContractors(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, buildMatchReport(lead, contractors, matchRadius, area))
	},
}

// buildMatchReport keeps the matches whose base lies inside area, when an
// area is given, and locates the centre of the remaining bases.
func buildMatchReport(lead *model.Lead, contractors []model.Contractor, radiusKm float64, area []model.Point) matchReport {
	matches := geo.MatchContractors(lead.Location, contractors, geo.MatchOptions{
		MaxDistanceKm:  radiusKm,
		SortByDistance: true,
	})
	if len(area) > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if geo.PointInPolygon(m.Contractor.Location, area) {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	rep := matchReport{LeadID: lead.ID, Location: lead.Location, Matches: matches}
	points := make([]model.Point, len(matches))
	for i, m := range matches {
		points[i] = m.Contractor.Location
	}
	if c, ok := geo.Centroid(points); ok {
		rep.Centroid = &c
	}
	return rep
}

// parseArea reads "lat,lng;lat,lng;..." into polygon vertices.
func parseArea(s string) ([]model.Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var pts []model.Point
	for _, pair := range strings.Split(s, ";") {
		lat, lng, ok := strings.Cut(strings.TrimSpace(pair), ",")
		if !ok {
			return nil, &model.ValidationError{Field: "area", Reason: fmt.Sprintf("vertex %q is not lat,lng", pair)}
		}
		la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		ln, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		if err1 != nil || err2 != nil {
			return nil, &model.ValidationError{Field: "area", Reason: fmt.Sprintf("vertex %q is not numeric", pair)}
		}
		pts = append(pts, model.Point{Lat: la, Lng: ln})
	}
	if len(pts) < 3 {
		return nil, &model.ValidationError{Field: "area", Reason: "needs at least three vertices"}
	}
	return pts, nil
}

func init() {
	matchCmd.Flags().Float64Var(&matchRadius, "radius", 0, "maximum distance in km (0 keeps each contractor's own radius)")
	matchCmd.Flags().StringVar(&matchArea, "area", "", "service area polygon as lat,lng;lat,lng;...")
	rootCmd.AddCommand(matchCmd)
}
