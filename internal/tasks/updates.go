package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
)

// ProgressUpdate represents a state change or progress event during a pass.
//
// Used to send real-time updates to the CLI or status server.
type ProgressUpdate struct {
	State   State  // Orchestrator state
	Step    int    // Current step number within the state
	Total   int    // Total steps in this state
	Message string // Human-readable message for display
	Data    any    // Optional state-specific data
}

// State is the orchestrator lifecycle.
//
//	Idle → FetchingSources → Resolving → Dispatching → Recording → Idle (one-shot) | Sleeping (follow)
//	Sleeping → FetchingSources on the next due tick, Stopped on cancellation
type State int

const (
	Idle State = iota
	FetchingSources
	Resolving
	Dispatching
	Recording
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingSources:
		return "fetching_sources"
	case Resolving:
		return "resolving"
	case Dispatching:
		return "dispatching"
	case Recording:
		return "recording"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	default:
		return ""
	}
}

func stateUpdate(s State) ProgressUpdate {
	return ProgressUpdate{State: s, Message: s.String()}
}

func fetchSourceUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		State:   FetchingSources,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching %s...", step, total, name),
	}
}

func fetchedSourceUpdate(step, total int, report models.SourceReport) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s (%d items)", step, total, report.Name, report.Fetched)
	switch {
	case report.Err != nil:
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, report.Name, report.Err)
	case report.Partial:
		msg = fmt.Sprintf("[%d/%d] ~ %s (%d items, partial)", step, total, report.Name, report.Fetched)
	}
	return ProgressUpdate{State: FetchingSources, Step: step, Total: total, Message: msg, Data: report}
}

func resolvingUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		State:   Resolving,
		Total:   total,
		Message: fmt.Sprintf("Resolving identifiers for %d items...", total),
	}
}

func dispatchUpdate(step, total int, res models.Result) ProgressUpdate {
	mark := "·"
	switch res.Outcome {
	case models.OutcomeAdded:
		mark = "✓"
	case models.OutcomeFailed:
		mark = "✗"
	}
	return ProgressUpdate{
		State:   Dispatching,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s → %s (%s)", step, total, mark, res.Item, res.Target, res.Outcome),
		Data:    res,
	}
}

func recordingUpdate(summary *models.PassSummary) ProgressUpdate {
	return ProgressUpdate{
		State: Recording,
		Message: fmt.Sprintf("Pass complete: %d added, %d present, %d skipped, %d failed",
			summary.Count(models.OutcomeAdded),
			summary.Count(models.OutcomeAlreadyPresent),
			summary.Count(models.OutcomeSkipped),
			summary.Count(models.OutcomeFailed),
		),
		Data: summary,
	}
}

func sleepingUpdate(wake time.Time, due []string) ProgressUpdate {
	return ProgressUpdate{
		State:   Sleeping,
		Message: fmt.Sprintf("Sleeping until %s (%v)", wake.Format(time.TimeOnly), due),
		Data:    wake,
	}
}
