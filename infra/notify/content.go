package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/leadroute/core/geo"
	"github.com/kilianp07/leadroute/core/model"
)

// alert is the data rendered into every channel.
type alert struct {
	LeadID     string
	Services   string
	Suburb     string
	Priority   model.Priority
	Emergency  bool
	Value      string
	DistanceKm string
	TravelMin  int
	AcceptURL  string
	DeclineURL string
	ExpiresAt  string
}

func newAlert(portal string, lead *model.Lead, a model.DistributionAttempt, expires time.Time) alert {
	svc := make([]string, len(lead.Services))
	for i, s := range lead.Services {
		svc[i] = string(s)
	}
	suburb := lead.Suburb
	if suburb == "" {
		suburb = fmt.Sprintf("%.4f,%.4f", lead.Location.Lat, lead.Location.Lng)
	}
	return alert{
		LeadID:     lead.ID,
		Services:   strings.Join(svc, ", "),
		Suburb:     suburb,
		Priority:   lead.Priority,
		Emergency:  lead.Emergency,
		Value:      fmt.Sprintf("$%.0f", lead.EstimatedValue),
		DistanceKm: fmt.Sprintf("%.1f", a.DistanceKm),
		TravelMin:  geo.EstimateTravelTime(a.DistanceKm),
		AcceptURL:  responseURL(portal, lead.ID, a.ContractorID, "accept"),
		DeclineURL: responseURL(portal, lead.ID, a.ContractorID, "decline"),
		ExpiresAt:  formatExpiry(expires),
	}
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "when filled"
	}
	return t.UTC().Format(time.RFC3339)
}

// responseURL is <portal>/leads/<lead>/<action>?contractor=<id>.
func responseURL(portal, leadID, contractorID, action string) string {
	q := url.Values{"contractor": {contractorID}}
	return strings.TrimRight(portal, "/") + "/leads/" + url.PathEscape(leadID) + "/" + action + "?" + q.Encode()
}

func (a alert) subject() string {
	prefix := "New lead"
	if a.Emergency {
		prefix = "EMERGENCY lead"
	}
	return fmt.Sprintf("%s: %s - %s", prefix, a.Services, a.Suburb)
}

func (a alert) sms() string {
	var b strings.Builder
	if a.Emergency {
		b.WriteString("EMERGENCY ")
	}
	fmt.Fprintf(&b, "NEW LEAD %s - %s\n", a.Services, a.Suburb)
	fmt.Fprintf(&b, "Value: %s\nDistance: %skm (%d mins)\n", a.Value, a.DistanceKm, a.TravelMin)
	fmt.Fprintf(&b, "Accept: %s\nDecline: %s\nExpires: %s", a.AcceptURL, a.DeclineURL, a.ExpiresAt)
	return b.String()
}

var emailTemplate = template.Must(template.New("lead").Parse(`<h2>{{if .Emergency}}Emergency lead{{else}}New lead{{end}}: {{.Services}}</h2>
<p>{{.Suburb}} &middot; priority {{.Priority}} &middot; estimated value {{.Value}}</p>
<p>{{.DistanceKm}} km away, about {{.TravelMin}} minutes travel.</p>
<p><a href="{{.AcceptURL}}">Accept lead</a> &nbsp; <a href="{{.DeclineURL}}">Decline lead</a></p>
<p>This offer expires at {{.ExpiresAt}}.</p>
`))

func (a alert) email() (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
