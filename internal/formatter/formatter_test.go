package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	th "github.com/desertthunder/lumarr/internal/testing"
	"github.com/google/go-cmp/cmp"
)

func sampleSummary() *models.PassSummary {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	arrival := models.WatchItem{Source: "plex", ExternalID: "1", Title: "Arrival", Year: 2016, Kind: models.KindMovie}
	dark := models.WatchItem{Source: "trakt", ExternalID: "2", Title: "Dark", Kind: models.KindShow}
	heat := models.WatchItem{Source: "letterboxd", ExternalID: "3", Title: "Heat | Director's Cut", Kind: models.KindMovie}

	return &models.PassSummary{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Sources: []models.SourceReport{
			{Name: "plex", Fetched: 1},
			{Name: "trakt", Fetched: 1, Partial: true, Err: errors.New("page 2 failed")},
			{Name: "letterboxd", Err: errors.New("connection refused")},
		},
		Results: []models.Result{
			{Item: arrival, Target: "radarr", Outcome: models.OutcomeAdded},
			{Item: dark, Target: "sonarr", Outcome: models.OutcomeFailed, Reason: "rejected", Err: errors.New("invalid root folder")},
			{Item: heat, Target: "radarr", Outcome: models.OutcomeSkipped, Reason: "already synced"},
		},
	}
}

func sampleRecords() []models.LedgerRecord {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.LedgerRecord{
		{ItemKey: "plex:movie:1", Target: "radarr", Source: "plex", Title: "Arrival (2016)", Kind: models.KindMovie,
			IDs: models.ProviderIDs{TMDB: "329865"}, Status: models.StatusSuccess, Attempts: 1, SyncedAt: at},
		{ItemKey: "trakt:show:2", Target: "sonarr", Source: "trakt", Title: "Dark", Kind: models.KindShow,
			Status: models.StatusFailed, ErrorMessage: "invalid root folder", Attempts: 2, Permanent: true, SyncedAt: at},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"JSON", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"md", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSummary(&buf, sampleSummary(), FormatText, true); err != nil {
			t.Fatalf("WriteSummary failed: %v", err)
		}
		out := buf.String()

		for _, want := range []string{"run-1", "plex: 1 items", "page 2 failed", "connection refused", "Arrival (2016)", "invalid root folder", "already synced", "1.5s"} {
			if !strings.Contains(out, want) {
				t.Errorf("text summary missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("text without results", func(t *testing.T) {
		var buf bytes.Buffer
		WriteSummary(&buf, sampleSummary(), FormatText, false)
		if strings.Contains(buf.String(), "Arrival") {
			t.Error("non-verbose summary should not list items")
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSummary(&buf, sampleSummary(), FormatJSON, true); err != nil {
			t.Fatalf("WriteSummary failed: %v", err)
		}

		var got SummaryReport
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.Added != 1 || got.Failed != 1 || got.Skipped != 1 || len(got.Results) != 3 {
			t.Errorf("unexpected counters: %+v", got)
		}

		want := []SourceLine{
			{Name: "plex", Fetched: 1},
			{Name: "trakt", Fetched: 1, Partial: true, Error: "page 2 failed"},
			{Name: "letterboxd", Error: "connection refused"},
		}
		if diff := cmp.Diff(want, got.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSummary(&buf, sampleSummary(), FormatCSV, true); err != nil {
			t.Fatalf("WriteSummary failed: %v", err)
		}
		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(rows) != 4 {
			t.Fatalf("expected header and 3 rows, got %d", len(rows))
		}
		if rows[2][0] != "trakt:show:2" || rows[2][3] != "failed" {
			t.Errorf("unexpected row: %v", rows[2])
		}
	})

	t.Run("markdown escapes pipes", func(t *testing.T) {
		var buf bytes.Buffer
		WriteSummary(&buf, sampleSummary(), FormatMarkdown, true)
		if !strings.Contains(buf.String(), `Heat \| Director's Cut`) {
			t.Errorf("expected escaped title, got:\n%s", buf.String())
		}
	})

	t.Run("aborted pass", func(t *testing.T) {
		s := sampleSummary()
		s.Aborted = errors.New("database is locked")

		var buf bytes.Buffer
		WriteSummary(&buf, s, FormatText, false)
		if !strings.Contains(buf.String(), "database is locked") {
			t.Error("expected abort reason in output")
		}
	})

	t.Run("write error", func(t *testing.T) {
		for _, f := range []Format{FormatText, FormatJSON, FormatCSV, FormatMarkdown} {
			if err := WriteSummary(&th.FWriter{}, sampleSummary(), f, true); err == nil {
				t.Errorf("%s: expected write error", f)
			}
		}
	})
}

func TestWriteHistory(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteHistory(&buf, sampleRecords(), FormatText); err != nil {
			t.Fatalf("WriteHistory failed: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "Arrival (2016)") || !strings.Contains(out, "invalid root folder") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if strings.Count(out, "\n") != 2 {
			t.Errorf("expected one line per record, got:\n%s", out)
		}
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		WriteHistory(&buf, nil, FormatText)
		if !strings.Contains(buf.String(), "No sync history") {
			t.Errorf("unexpected output: %q", buf.String())
		}

		buf.Reset()
		WriteHistory(&buf, nil, FormatJSON)
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("expected empty JSON array, got %q", buf.String())
		}
	})

	t.Run("json round trip", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteHistory(&buf, sampleRecords(), FormatJSON); err != nil {
			t.Fatalf("WriteHistory failed: %v", err)
		}
		var got []models.LedgerRecord
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if diff := cmp.Diff(sampleRecords(), got); diff != "" {
			t.Errorf("records mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		WriteHistory(&buf, sampleRecords(), FormatCSV)
		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(rows) != 3 || rows[1][0] != "2025-03-01T12:00:00Z" || rows[1][7] != "329865" {
			t.Errorf("unexpected rows: %v", rows)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		WriteHistory(&buf, sampleRecords(), FormatMarkdown)
		if !strings.Contains(buf.String(), "| 2025-03-01 12:00:00 | trakt | Dark | sonarr | failed | 2 |") {
			t.Errorf("unexpected markdown:\n%s", buf.String())
		}
	})

	t.Run("write error", func(t *testing.T) {
		w := th.NewLimitedWriter(0, 0, &bytes.Buffer{})
		if err := WriteHistory(&w, sampleRecords(), FormatCSV); err == nil {
			t.Error("expected error once the writer fails")
		}
	})
}

func TestWriteStatus(t *testing.T) {
	report := StatusReport{
		Sources:  []string{"plex", "letterboxd"},
		Targets:  []string{"radarr"},
		Counts:   map[models.Status]int{models.StatusSuccess: 12, models.StatusFailed: 1},
		Baseline: map[string]int{"plex": 40},
		Cached:   7,
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteStatus(&buf, report, FormatText); err != nil {
			t.Fatalf("WriteStatus failed: %v", err)
		}
		out := buf.String()
		for _, want := range []string{"plex, letterboxd", "radarr", "12", "plex: 40 items", "7"} {
			if !strings.Contains(out, want) {
				t.Errorf("status missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("no targets", func(t *testing.T) {
		var buf bytes.Buffer
		WriteStatus(&buf, StatusReport{}, FormatText)
		if !strings.Contains(buf.String(), "Targets: none") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		WriteStatus(&buf, report, FormatCSV)
		rows, _ := csv.NewReader(&buf).ReadAll()
		if len(rows) != len(models.Statuses)+1 || rows[1][0] != "success" || rows[1][1] != "12" {
			t.Errorf("unexpected rows: %v", rows)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		WriteStatus(&buf, report, FormatJSON)
		var got StatusReport
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if diff := cmp.Diff(report, got); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	})
}
