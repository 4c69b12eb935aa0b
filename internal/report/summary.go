package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/nao1215/darc/internal/database"
	"github.com/nao1215/darc/internal/frontier"
	"github.com/nao1215/darc/internal/model"
)

// kindOrder is the display order of outcome kinds.
var kindOrder = []model.OutcomeKind{
	model.OutcomeOK,
	model.OutcomeRenderRequired,
	model.OutcomeFetchError,
	model.OutcomeTimeout,
	model.OutcomeBlocked,
}

// KindCount is the number of visits with one outcome kind.
type KindCount struct {
	Kind  model.OutcomeKind `json:"kind"`
	Count int               `json:"count"`
}

// HostCount is the number of visits of one host.
type HostCount struct {
	Host   string `json:"host"`
	Visits int    `json:"visits"`
}

// Summary is what `darc stats` reports.
type Summary struct {
	Generated  time.Time       `json:"generated"`
	Database   string          `json:"database"`
	Visits     int             `json:"visits"`
	URLs       int             `json:"urls"`
	Hosts      int             `json:"hosts"`
	Links      int             `json:"links"`
	Outcomes   []KindCount     `json:"outcomes"`
	TopHosts   []HostCount     `json:"top_hosts"`
	FirstVisit time.Time       `json:"first_visit,omitzero"`
	LastVisit  time.Time       `json:"last_visit,omitzero"`
	Frontier   *frontier.Stats `json:"frontier,omitempty"`
}

// NewSummary builds a Summary. fr may be nil when no shared frontier is
// reachable.
func NewSummary(dbPath string, st *database.Stats, fr *frontier.Stats, now time.Time) *Summary {
	s := &Summary{
		Generated:  now,
		Database:   dbPath,
		Visits:     st.Visits,
		URLs:       st.URLs,
		Hosts:      st.Hosts,
		Links:      st.Links,
		Outcomes:   []KindCount{},
		TopHosts:   make([]HostCount, 0, len(st.TopHosts)),
		FirstVisit: st.First,
		LastVisit:  st.Last,
		Frontier:   fr,
	}

	for _, k := range kindOrder {
		if n := st.ByKind[k]; n > 0 {
			s.Outcomes = append(s.Outcomes, KindCount{Kind: k, Count: n})
		}
	}
	var extra []KindCount
	for k, n := range st.ByKind {
		if !slices.Contains(kindOrder, k) && n > 0 {
			extra = append(extra, KindCount{Kind: k, Count: n})
		}
	}
	slices.SortFunc(extra, func(a, b KindCount) int { return cmp.Compare(a.Kind, b.Kind) })
	s.Outcomes = append(s.Outcomes, extra...)

	for _, h := range st.TopHosts {
		s.TopHosts = append(s.TopHosts, HostCount{Host: h.Host, Visits: h.Visits})
	}
	return s
}

// Successful returns the number of visits that count as successful.
func (s *Summary) Successful() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind.Successful() {
			n += o.Count
		}
	}
	return n
}

// SuccessRate returns Successful as a percentage of all visits.
func (s *Summary) SuccessRate() float64 {
	if s.Visits == 0 {
		return 0
	}
	return float64(s.Successful()) * 100 / float64(s.Visits)
}
