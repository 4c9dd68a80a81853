package pipeline

import (
	"strconv"
	"time"
)

// RegionSummary counts what happened while scraping one region.
type RegionSummary struct {
	RegionID    int64     `json:"region_id"`
	ExternalID  int64     `json:"external_id"`
	Name        string    `json:"name"`
	Pages       int       `json:"pages"`
	PagesFailed int       `json:"pages_failed"`
	Records     int       `json:"records"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Rejected    int       `json:"rejected"`
	Failed      int       `json:"failed"`
	Archived    int       `json:"archived"`
	Total       *int      `json:"total,omitempty"`
	Reason      Reason    `json:"reason"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Persisted is the number of records that reached the store.
func (s RegionSummary) Persisted() int {
	return s.Inserted + s.Updated
}

// RunSummary aggregates every region of one run. It is also the Pub/Sub
// notification payload.
type RunSummary struct {
	RunID       string          `json:"run_id"`
	Keyword     string          `json:"keyword"`
	Source      string          `json:"source"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Regions     []RegionSummary `json:"regions"`
	Pages       int             `json:"pages"`
	PagesFailed int             `json:"pages_failed"`
	Records     int             `json:"records"`
	Inserted    int             `json:"inserted"`
	Updated     int             `json:"updated"`
	Rejected    int             `json:"rejected"`
	Failed      int             `json:"failed"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

func (s *RunSummary) add(r RegionSummary) {
	s.Regions = append(s.Regions, r)
	s.Pages += r.Pages
	s.PagesFailed += r.PagesFailed
	s.Records += r.Records
	s.Inserted += r.Inserted
	s.Updated += r.Updated
	s.Rejected += r.Rejected
	s.Failed += r.Failed
}

// Attributes labels the Pub/Sub message.
func (s RunSummary) Attributes() map[string]string {
	return map[string]string{
		"run_id":  s.RunID,
		"status":  s.Status,
		"keyword": s.Keyword,
		"regions": strconv.Itoa(len(s.Regions)),
	}
}
