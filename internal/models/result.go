package models

import "time"

// Outcome is what happened to an item during a pass.
type Outcome string

const (
	OutcomeAdded          Outcome = "added"
	OutcomeAlreadyPresent Outcome = "already_present"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeFailed         Outcome = "failed"
)

// Result is the per-item, per-pass decision.
type Result struct {
	Item    WatchItem
	Target  string
	Outcome Outcome
	Reason  string
	Err     error
	DryRun  bool
}

// SourceReport summarises one source fetch within a pass.
type SourceReport struct {
	Name    string
	Fetched int
	Partial bool
	Err     error
}

// Failed reports whether the source could not deliver its full list.
func (s SourceReport) Failed() bool {
	return s.Err != nil || s.Partial
}

// PassSummary collects everything a single pass did.
type PassSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Sources    []SourceReport
	Results    []Result
	Aborted    error
}

// Count returns the number of results with outcome o.
func (p *PassSummary) Count(o Outcome) int {
	n := 0
	for _, r := range p.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any item or source failed, or the pass was aborted.
func (p *PassSummary) Failed() bool {
	if p.Aborted != nil {
		return true
	}
	for _, s := range p.Sources {
		if s.Failed() {
			return true
		}
	}
	return p.Count(OutcomeFailed) > 0
}

// Duration is how long the pass took.
func (p *PassSummary) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}
