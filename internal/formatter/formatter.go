// package formatter renders pass summaries, ledger history and status reports as text, JSON, CSV or Markdown
package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
)

// Format is an output format accepted by the Write functions.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a user supplied format name. An empty name means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatCSV, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json, csv or markdown)", s)
	}
}

// SourceLine is the serialisable form of [models.SourceReport].
type SourceLine struct {
	Name    string `json:"name"`
	Fetched int    `json:"fetched"`
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// ResultLine is the serialisable form of [models.Result].
type ResultLine struct {
	Key     string         `json:"key"`
	Title   string         `json:"title"`
	Target  string         `json:"target"`
	Outcome models.Outcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
	DryRun  bool           `json:"dry_run,omitempty"`
}

// SummaryReport is the serialisable form of [models.PassSummary].
type SummaryReport struct {
	RunID          string       `json:"run_id"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	DryRun         bool         `json:"dry_run"`
	Added          int          `json:"added"`
	AlreadyPresent int          `json:"already_present"`
	Skipped        int          `json:"skipped"`
	Failed         int          `json:"failed"`
	Sources        []SourceLine `json:"sources"`
	Results        []ResultLine `json:"results,omitempty"`
	Aborted        string       `json:"aborted,omitempty"`
}

// NewSummaryReport flattens s. Per-item results are included only when withResults is set.
func NewSummaryReport(s *models.PassSummary, withResults bool) SummaryReport {
	report := SummaryReport{
		RunID:          s.RunID,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		DryRun:         s.DryRun,
		Added:          s.Count(models.OutcomeAdded),
		AlreadyPresent: s.Count(models.OutcomeAlreadyPresent),
		Skipped:        s.Count(models.OutcomeSkipped),
		Failed:         s.Count(models.OutcomeFailed),
		Sources:        make([]SourceLine, 0, len(s.Sources)),
		Aborted:        errString(s.Aborted),
	}
	for _, src := range s.Sources {
		report.Sources = append(report.Sources, SourceLine{
			Name:    src.Name,
			Fetched: src.Fetched,
			Partial: src.Partial,
			Error:   errString(src.Err),
		})
	}
	if withResults {
		for _, r := range s.Results {
			report.Results = append(report.Results, ResultLine{
				Key:     r.Item.Key(),
				Title:   r.Item.String(),
				Target:  r.Target,
				Outcome: r.Outcome,
				Reason:  r.Reason,
				Error:   errString(r.Err),
				DryRun:  r.DryRun,
			})
		}
	}
	return report
}

// WriteSummary renders a pass summary. verbose adds one line per item.
func WriteSummary(w io.Writer, s *models.PassSummary, format Format, verbose bool) error {
	report := NewSummaryReport(s, verbose)

	switch format {
	case FormatJSON:
		return writeJSON(w, report)
	case FormatCSV:
		return writeCSV(w, []string{"key", "title", "target", "outcome", "reason", "error", "dry_run"}, len(report.Results), func(i int) []string {
			r := report.Results[i]
			return []string{r.Key, r.Title, r.Target, string(r.Outcome), r.Reason, r.Error, strconv.FormatBool(r.DryRun)}
		})
	case FormatMarkdown:
		return writeSummaryMarkdown(w, report)
	default:
		return writeSummaryText(w, report)
	}
}

func writeSummaryText(w io.Writer, r SummaryReport) error {
	var b strings.Builder

	title := "Sync pass " + r.RunID
	if r.DryRun {
		title += " (dry run)"
	}
	b.WriteString(styles.title.Render(title) + "\n\n")

	for _, src := range r.Sources {
		switch {
		case src.Error != "" && !src.Partial:
			fmt.Fprintf(&b, "  %s %s: %s\n", styles.err.Render("✗"), src.Name, src.Error)
		case src.Partial:
			fmt.Fprintf(&b, "  %s %s: %d items (partial: %s)\n", styles.warn.Render("~"), src.Name, src.Fetched, src.Error)
		default:
			fmt.Fprintf(&b, "  %s %s: %d items\n", styles.ok.Render("✓"), src.Name, src.Fetched)
		}
	}
	if len(r.Sources) > 0 {
		b.WriteString("\n")
	}

	for _, res := range r.Results {
		fmt.Fprintf(&b, "  %-16s %s → %s", styles.Outcome(res.Outcome), res.Title, res.Target)
		if res.Reason != "" {
			fmt.Fprintf(&b, " %s", styles.muted.Render("("+res.Reason+")"))
		}
		if res.Error != "" && res.Outcome == models.OutcomeFailed {
			fmt.Fprintf(&b, ": %s", res.Error)
		}
		b.WriteString("\n")
	}
	if len(r.Results) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s added, %s already present, %s skipped, %s failed in %s\n",
		styles.ok.Render(strconv.Itoa(r.Added)),
		strconv.Itoa(r.AlreadyPresent),
		styles.muted.Render(strconv.Itoa(r.Skipped)),
		styles.err.Render(strconv.Itoa(r.Failed)),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
	)
	if r.Aborted != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.err.Render("aborted:"), r.Aborted)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSummaryMarkdown(w io.Writer, r SummaryReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sync pass %s\n\n", r.RunID)
	if r.DryRun {
		b.WriteString("**Dry run**: no changes were made\n\n")
	}
	fmt.Fprintf(&b, "**Added**: %d\n**Already present**: %d\n**Skipped**: %d\n**Failed**: %d\n\n",
		r.Added, r.AlreadyPresent, r.Skipped, r.Failed)

	b.WriteString("## Sources\n\n")
	for _, src := range r.Sources {
		fmt.Fprintf(&b, "- %s: %d items", src.Name, src.Fetched)
		if src.Error != "" {
			fmt.Fprintf(&b, " (%s)", src.Error)
		}
		b.WriteString("\n")
	}

	if len(r.Results) > 0 {
		b.WriteString("\n## Items\n\n| Item | Target | Outcome | Reason |\n|---|---|---|---|\n")
		for _, res := range r.Results {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", escapeCell(res.Title), res.Target, res.Outcome, escapeCell(res.Reason))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteHistory renders ledger records, newest first as given.
func WriteHistory(w io.Writer, records []models.LedgerRecord, format Format) error {
	switch format {
	case FormatJSON:
		if records == nil {
			records = []models.LedgerRecord{}
		}
		return writeJSON(w, records)
	case FormatCSV:
		header := []string{"synced_at", "source", "title", "kind", "target", "status", "attempts", "tmdb", "tvdb", "imdb", "error"}
		return writeCSV(w, header, len(records), func(i int) []string {
			r := records[i]
			return []string{
				r.SyncedAt.UTC().Format(time.RFC3339), r.Source, r.Title, string(r.Kind), r.Target, string(r.Status),
				strconv.Itoa(r.Attempts), r.IDs.TMDB, r.IDs.TVDB, r.IDs.IMDB, r.ErrorMessage,
			}
		})
	case FormatMarkdown:
		var b strings.Builder
		b.WriteString("| Synced | Source | Title | Target | Status | Attempts |\n|---|---|---|---|---|---|\n")
		for _, r := range records {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d |\n",
				r.SyncedAt.Format(time.DateTime), r.Source, escapeCell(r.Title), r.Target, r.Status, r.Attempts)
		}
		_, err := io.WriteString(w, b.String())
		return err
	default:
		if len(records) == 0 {
			_, err := fmt.Fprintln(w, styles.muted.Render("No sync history."))
			return err
		}
		var b strings.Builder
		for _, r := range records {
			fmt.Fprintf(&b, "%s  %-9s %-7s %-8s %s", r.SyncedAt.Local().Format(time.DateTime), r.Source, r.Target, styles.Status(r.Status), r.Title)
			if r.ErrorMessage != "" {
				fmt.Fprintf(&b, " %s", styles.muted.Render("("+r.ErrorMessage+")"))
			}
			b.WriteString("\n")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}

// StatusReport describes the configured pipeline and the ledger state.
type StatusReport struct {
	Sources  []string              `json:"sources"`
	Targets  []string              `json:"targets"`
	Counts   map[models.Status]int `json:"counts"`
	Baseline map[string]int        `json:"baseline,omitempty"`
	Cached   int                   `json:"cached_entries"`
	State    string                `json:"state,omitempty"`
	LastPass *SummaryReport        `json:"last_pass,omitempty"`
}

// WriteStatus renders a status report.
func WriteStatus(w io.Writer, s StatusReport, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatCSV:
		return writeCSV(w, []string{"status", "count"}, len(models.Statuses), func(i int) []string {
			st := models.Statuses[i]
			return []string{string(st), strconv.Itoa(s.Counts[st])}
		})
	default:
		var b strings.Builder
		b.WriteString(styles.title.Render("lumarr status") + "\n\n")
		fmt.Fprintf(&b, "  Sources: %s\n", listOrNone(s.Sources))
		fmt.Fprintf(&b, "  Targets: %s\n", listOrNone(s.Targets))
		if s.State != "" {
			fmt.Fprintf(&b, "  State:   %s\n", s.State)
		}
		b.WriteString("\n")

		for _, st := range models.Statuses {
			fmt.Fprintf(&b, "  %-8s %d\n", styles.Status(st), s.Counts[st])
		}
		fmt.Fprintf(&b, "  %-8s %d\n", "cached", s.Cached)

		if len(s.Baseline) > 0 {
			b.WriteString("\n  Baseline:\n")
			names := make([]string, 0, len(s.Baseline))
			for name := range s.Baseline {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(&b, "    %s: %d items\n", name, s.Baseline[name])
			}
		}

		if s.LastPass != nil {
			fmt.Fprintf(&b, "\n  Last pass %s at %s: %d added, %d failed\n",
				s.LastPass.RunID, s.LastPass.FinishedAt.Format(time.DateTime), s.LastPass.Added, s.LastPass.Failed)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, header []string, n int, row func(int) []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for i := range n {
		if err := writer.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
