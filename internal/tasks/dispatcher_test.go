package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/shared"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	matrix := movie("plex", "1", "The Matrix", models.ProviderIDs{TMDB: "603"})

	t.Run("second dispatch of a synced item is skipped", func(t *testing.T) {
		h := newHarness(t)
		d := h.dispatcher(DispatchOptions{})

		first, err := d.Dispatch(ctx, matrix)
		if err != nil || first.Outcome != models.OutcomeAdded {
			t.Fatalf("expected added, got %v, %v", first.Outcome, err)
		}
		second, err := d.Dispatch(ctx, matrix)
		if err != nil || second.Outcome != models.OutcomeSkipped {
			t.Fatalf("expected skipped, got %v, %v", second.Outcome, err)
		}
		if h.movies.CallsFor(matrix.Key()) != 1 {
			t.Errorf("expected one target call, got %d", h.movies.CallsFor(matrix.Key()))
		}

		rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if rec == nil || rec.Status != models.StatusSuccess || rec.Attempts != 1 {
			t.Errorf("expected success record with one attempt, got %+v", rec)
		}
	})

	t.Run("already present counts as success", func(t *testing.T) {
		h := newHarness(t)
		h.movies.Outcome = services.AlreadyPresent

		res, err := h.dispatcher(DispatchOptions{}).Dispatch(ctx, matrix)
		if err != nil || res.Outcome != models.OutcomeAlreadyPresent {
			t.Fatalf("expected already present, got %v, %v", res.Outcome, err)
		}
		rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if rec.Status != models.StatusSuccess {
			t.Errorf("expected success status, got %s", rec.Status)
		}
	})

	t.Run("concurrent dispatch calls the target once", func(t *testing.T) {
		h := newHarness(t)
		h.movies.Delay = 10 * time.Millisecond
		d := h.dispatcher(DispatchOptions{})

		var wg sync.WaitGroup
		outcomes := make([]models.Outcome, 20)
		for i := range outcomes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := d.Dispatch(ctx, matrix)
				if err != nil {
					t.Errorf("dispatch failed: %v", err)
				}
				outcomes[i] = res.Outcome
			}()
		}
		wg.Wait()

		if n := h.movies.CallsFor(matrix.Key()); n != 1 {
			t.Errorf("expected exactly one target call, got %d", n)
		}
		if n := countOutcome(resultsOf(outcomes), models.OutcomeAdded); n != 1 {
			t.Errorf("expected exactly one added outcome, got %d", n)
		}
	})

	t.Run("rating filter", func(t *testing.T) {
		tests := []struct {
			name   string
			rating *float64
			want   models.Outcome
		}{
			{"below threshold", models.Rating(3.0), models.OutcomeSkipped},
			{"at threshold", models.Rating(3.5), models.OutcomeAdded},
			{"above threshold", models.Rating(4.0), models.OutcomeAdded},
			{"unrated", nil, models.OutcomeAdded},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t)
				item := movie("letterboxd", fmt.Sprint(i), tt.name, models.ProviderIDs{TMDB: fmt.Sprint(100 + i)})
				item.Rating = tt.rating

				res, err := h.dispatcher(DispatchOptions{MinRating: 3.5}).Dispatch(ctx, item)
				if err != nil || res.Outcome != tt.want {
					t.Errorf("expected %s, got %s (%v)", tt.want, res.Outcome, err)
				}
				if tt.want == models.OutcomeSkipped {
					if rec, _ := h.ledger.Lookup(ctx, item.Key(), models.TargetRadarr); rec != nil {
						t.Error("rating skips should not be recorded")
					}
				}
			})
		}
	})

	t.Run("permanent rejections stop after max", func(t *testing.T) {
		h := newHarness(t)
		h.movies.Errs = map[string]error{matrix.Key(): fmt.Errorf("%w: invalid root folder", shared.ErrTargetRejection)}
		d := h.dispatcher(DispatchOptions{MaxRejections: 2})

		for attempt := 1; attempt <= 2; attempt++ {
			res, err := d.Dispatch(ctx, matrix)
			if err != nil || res.Outcome != models.OutcomeFailed {
				t.Fatalf("attempt %d: expected failed, got %v, %v", attempt, res.Outcome, err)
			}
		}

		rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if !rec.Permanent || rec.Attempts != 2 || rec.Rejections != 2 || rec.Status != models.StatusFailed {
			t.Errorf("expected permanent failure after 2 attempts, got %+v", rec)
		}

		res, _ := d.Dispatch(ctx, matrix)
		if res.Outcome != models.OutcomeSkipped {
			t.Errorf("expected skip after max rejections, got %s", res.Outcome)
		}
		if h.movies.CallsFor(matrix.Key()) != 2 {
			t.Errorf("expected 2 target calls, got %d", h.movies.CallsFor(matrix.Key()))
		}
	})

	t.Run("transient failures do not count toward the rejection cap", func(t *testing.T) {
		h := newHarness(t)
		d := h.dispatcher(DispatchOptions{MaxRejections: 3})

		h.movies.Errs = map[string]error{matrix.Key(): fmt.Errorf("%w: 503", shared.ErrTransientFetch)}
		for range 2 {
			d.Dispatch(ctx, matrix)
		}

		h.movies.Errs = map[string]error{matrix.Key(): fmt.Errorf("%w: quality profile missing", shared.ErrTargetRejection)}
		res, _ := d.Dispatch(ctx, matrix)
		if res.Outcome != models.OutcomeFailed || res.Reason != "rejected" {
			t.Fatalf("expected rejection, got %+v", res)
		}

		rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if rec.Attempts != 3 || rec.Rejections != 1 {
			t.Errorf("expected 3 attempts with 1 rejection, got %d/%d", rec.Attempts, rec.Rejections)
		}

		res, _ = d.Dispatch(ctx, matrix)
		if res.Outcome != models.OutcomeFailed {
			t.Errorf("expected another try after one rejection, got %s (%s)", res.Outcome, res.Reason)
		}
		if n := h.movies.CallsFor(matrix.Key()); n != 4 {
			t.Errorf("expected 4 target calls, got %d", n)
		}
	})

	t.Run("identifiers the target cannot use are skipped", func(t *testing.T) {
		h := newHarness(t)
		item := movie("trakt", "tv-only", "Odd Entry", models.ProviderIDs{TVDB: "81189"})
		h.movies.Errs = map[string]error{item.Key(): fmt.Errorf("%w: radarr needs a tmdb or imdb id", shared.ErrUnresolvedIdentifier)}

		res, err := h.dispatcher(DispatchOptions{}).Dispatch(ctx, item)
		if err != nil || res.Outcome != models.OutcomeSkipped || !errors.Is(res.Err, shared.ErrUnresolvedIdentifier) {
			t.Fatalf("expected unresolved skip, got %+v, %v", res, err)
		}
		rec, _ := h.ledger.Lookup(ctx, item.Key(), models.TargetRadarr)
		if rec == nil || rec.Status != models.StatusSkipped || rec.Permanent {
			t.Errorf("expected non-permanent skipped record, got %+v", rec)
		}
	})

	t.Run("transient failure is retried next pass", func(t *testing.T) {
		h := newHarness(t)
		h.movies.Errs = map[string]error{matrix.Key(): fmt.Errorf("%w: 503", shared.ErrTransientFetch)}
		d := h.dispatcher(DispatchOptions{})

		res, _ := d.Dispatch(ctx, matrix)
		if res.Outcome != models.OutcomeFailed || res.Reason != "transient" {
			t.Fatalf("expected transient failure, got %+v", res)
		}
		rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if rec.Permanent {
			t.Error("transient failures are not permanent")
		}

		h.movies.Errs = nil
		res, _ = d.Dispatch(ctx, matrix)
		if res.Outcome != models.OutcomeAdded {
			t.Errorf("expected added on retry, got %s", res.Outcome)
		}
		rec, _ = h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr)
		if rec.Attempts != 2 || rec.Status != models.StatusSuccess {
			t.Errorf("expected success on attempt 2, got %+v", rec)
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.dispatcher(DispatchOptions{DryRun: true}).Dispatch(ctx, matrix)
		if err != nil || res.Outcome != models.OutcomeAdded || !res.DryRun {
			t.Fatalf("expected projected add, got %+v, %v", res, err)
		}
		if h.movies.TotalCalls() != 0 {
			t.Error("dry run must not call the target")
		}
		if rec, _ := h.ledger.Lookup(ctx, matrix.Key(), models.TargetRadarr); rec != nil {
			t.Error("dry run must not write the ledger")
		}
	})

	t.Run("unresolved item is recorded as skipped", func(t *testing.T) {
		h := newHarness(t)
		item := movie("letterboxd", "w1", "Unknown", models.ProviderIDs{})

		res, err := h.dispatcher(DispatchOptions{}).Dispatch(ctx, item)
		if err != nil || res.Outcome != models.OutcomeSkipped || !errors.Is(res.Err, shared.ErrUnresolvedIdentifier) {
			t.Fatalf("expected unresolved skip, got %+v, %v", res, err)
		}
		rec, _ := h.ledger.Lookup(ctx, item.Key(), models.TargetRadarr)
		if rec == nil || rec.Status != models.StatusSkipped {
			t.Errorf("expected skipped record, got %+v", rec)
		}
	})

	t.Run("shows go to the series target", func(t *testing.T) {
		h := newHarness(t)
		severance := show("trakt", "2", "Severance", models.ProviderIDs{TVDB: "371980"})

		res, err := h.dispatcher(DispatchOptions{}).Dispatch(ctx, severance)
		if err != nil || res.Target != models.TargetSonarr || res.Outcome != models.OutcomeAdded {
			t.Fatalf("expected sonarr add, got %+v, %v", res, err)
		}
		if h.series.CallsFor(severance.Key()) != 1 || h.movies.TotalCalls() != 0 {
			t.Error("expected only the series target to be called")
		}
	})

	t.Run("missing target skips", func(t *testing.T) {
		h := newHarness(t)
		d := NewDispatcher(h.ledger, h.movies, nil, DispatchOptions{}, nil)

		res, err := d.Dispatch(ctx, show("trakt", "2", "Severance", models.ProviderIDs{TVDB: "1"}))
		if err != nil || !errors.Is(res.Err, shared.ErrNoTarget) {
			t.Errorf("expected no target skip, got %+v, %v", res, err)
		}
	})

	t.Run("ledger failure is returned", func(t *testing.T) {
		h := newHarness(t)
		h.db.Close()

		_, err := h.dispatcher(DispatchOptions{}).Dispatch(ctx, matrix)
		if !errors.Is(err, shared.ErrPersistence) {
			t.Errorf("expected persistence error, got %v", err)
		}
		if h.movies.TotalCalls() != 0 {
			t.Error("target must not be called when the ledger is unreadable")
		}
	})

	t.Run("Screen", func(t *testing.T) {
		h := newHarness(t)
		d := h.dispatcher(DispatchOptions{})

		if pre, err := d.Screen(ctx, matrix); err != nil || pre != nil {
			t.Fatalf("fresh item should pass screening, got %+v, %v", pre, err)
		}
		d.Dispatch(ctx, matrix)
		if pre, _ := d.Screen(ctx, matrix); pre == nil || pre.Reason != "already synced" {
			t.Errorf("synced item should be screened out, got %+v", pre)
		}
	})
}

func resultsOf(outcomes []models.Outcome) []models.Result {
	results := make([]models.Result, len(outcomes))
	for i, o := range outcomes {
		results[i].Outcome = o
	}
	return results
}
