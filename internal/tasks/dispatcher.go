package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/shared"
)

// Ledger is the dedup store the dispatcher and orchestrator work against.
type Ledger interface {
	WithKey(itemKey, target string, fn func() error) error
	Lookup(ctx context.Context, itemKey, target string) (*models.LedgerRecord, error)
	Record(ctx context.Context, rec *models.LedgerRecord) error
	HasBaseline(ctx context.Context, source string) (bool, error)
	BaselineMark(ctx context.Context, source string, keys []string) (int, error)
	IsBaseline(ctx context.Context, itemKey string) (bool, error)
}

// DispatchOptions controls which items are sent to a target.
type DispatchOptions struct {
	DryRun         bool
	IgnoreExisting bool
	MinRating      float64 // 0 disables the filter
	MaxRejections  int     // permanent rejections before an item is no longer retried
}

// Dispatcher decides per item whether to call a target and records the outcome.
type Dispatcher struct {
	ledger Ledger
	movies services.MovieTarget
	series services.SeriesTarget
	opts   DispatchOptions
	logger *log.Logger
}

// NewDispatcher creates a dispatcher. Either target may be nil; items of that kind are then skipped.
func NewDispatcher(ledger Ledger, movies services.MovieTarget, series services.SeriesTarget, opts DispatchOptions, logger *log.Logger) *Dispatcher {
	if opts.MaxRejections <= 0 {
		opts.MaxRejections = 1
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Dispatcher{ledger: ledger, movies: movies, series: series, opts: opts, logger: logger}
}

// Screen reports whether item would be skipped before identifier resolution is worth doing.
// It returns nil when the item should go on to [Dispatcher.Dispatch].
func (d *Dispatcher) Screen(ctx context.Context, item models.WatchItem) (*models.Result, error) {
	target := item.Target()
	if !d.hasTarget(item.Kind) {
		res := skipped(item, target, "no target configured", shared.ErrNoTarget)
		return &res, nil
	}

	prev, err := d.ledger.Lookup(ctx, item.Key(), target)
	if err != nil {
		return nil, err
	}
	return d.prefilter(ctx, item, prev)
}

// Dispatch runs the full decision for item inside the ledger's per-key critical section.
//
// Only errors wrapping [shared.ErrPersistence] are returned; everything else becomes a failed result.
// Once a target call has started it runs to completion and is recorded even if ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, item models.WatchItem) (models.Result, error) {
	target := item.Target()
	if !d.hasTarget(item.Kind) {
		return skipped(item, target, "no target configured", shared.ErrNoTarget), nil
	}

	var res models.Result
	err := d.ledger.WithKey(item.Key(), target, func() error {
		prev, err := d.ledger.Lookup(ctx, item.Key(), target)
		if err != nil {
			return err
		}

		if pre, err := d.prefilter(ctx, item, prev); err != nil || pre != nil {
			if pre != nil {
				res = *pre
			}
			return err
		}

		if prev != nil && prev.Rejections >= d.opts.MaxRejections {
			res = skipped(item, target, fmt.Sprintf("rejected %d times", prev.Rejections), nil)
			return nil
		}

		if item.IDs.Empty() {
			res = skipped(item, target, "no provider identifier", shared.ErrUnresolvedIdentifier)
			if d.opts.DryRun {
				return nil
			}
			rec := models.NewLedgerRecord(item, target, models.StatusSkipped)
			rec.ErrorMessage = "no provider identifier"
			if prev != nil {
				rec.Attempts, rec.Rejections = prev.Attempts, prev.Rejections
			}
			return d.ledger.Record(ctx, rec)
		}

		if d.opts.DryRun {
			res = models.Result{Item: item, Target: target, Outcome: models.OutcomeAdded, Reason: "dry run", DryRun: true}
			return nil
		}

		var recErr error
		res, recErr = d.send(ctx, item, target, prev)
		return recErr
	})
	if err != nil {
		return models.Result{Item: item, Target: target, Outcome: models.OutcomeFailed, Err: err}, err
	}
	return res, nil
}

// prefilter applies the checks that never write to the ledger: already synced, baseline and rating.
func (d *Dispatcher) prefilter(ctx context.Context, item models.WatchItem, prev *models.LedgerRecord) (*models.Result, error) {
	target := item.Target()

	if prev != nil && prev.Status == models.StatusSuccess {
		res := skipped(item, target, "already synced", nil)
		return &res, nil
	}

	if d.opts.IgnoreExisting {
		baseline, err := d.ledger.IsBaseline(ctx, item.Key())
		if err != nil {
			return nil, err
		}
		if baseline {
			res := skipped(item, target, "baseline", nil)
			return &res, nil
		}
	}

	if d.opts.MinRating > 0 && item.HasRating() && *item.Rating < d.opts.MinRating {
		res := skipped(item, target, fmt.Sprintf("rating %.1f below %.1f", *item.Rating, d.opts.MinRating), nil)
		return &res, nil
	}

	return nil, nil
}

// send records a pending attempt, calls the target and records the outcome.
func (d *Dispatcher) send(ctx context.Context, item models.WatchItem, target string, prev *models.LedgerRecord) (models.Result, error) {
	ctx = context.WithoutCancel(ctx)

	attempts, rejections := 1, 0
	if prev != nil {
		attempts, rejections = prev.Attempts+1, prev.Rejections
	}

	pending := models.NewLedgerRecord(item, target, models.StatusPending)
	pending.Attempts = attempts
	pending.Rejections = rejections
	if err := d.ledger.Record(ctx, pending); err != nil {
		return models.Result{}, err
	}

	outcome, callErr := d.call(ctx, item)

	rec := models.NewLedgerRecord(item, target, models.StatusSuccess)
	rec.ID = pending.ID
	rec.Attempts = attempts
	rec.Rejections = rejections
	res := models.Result{Item: item, Target: target}

	switch {
	case callErr == nil:
		res.Outcome = models.OutcomeAdded
		if outcome == services.AlreadyPresent {
			res.Outcome = models.OutcomeAlreadyPresent
		}
		d.logger.Info("synced", "item", item.String(), "target", target, "outcome", outcome)
	case errors.Is(callErr, shared.ErrUnresolvedIdentifier):
		rec.Status = models.StatusSkipped
		rec.ErrorMessage = callErr.Error()
		res.Outcome, res.Err, res.Reason = models.OutcomeSkipped, callErr, "no identifier the target accepts"
		d.logger.Warn("target cannot use item identifiers", "item", item.String(), "target", target, "ids", item.IDs.String())
	case shared.IsRejection(callErr):
		rec.Status = models.StatusFailed
		rec.Permanent = true
		rec.Rejections = rejections + 1
		rec.ErrorMessage = callErr.Error()
		res.Outcome, res.Err, res.Reason = models.OutcomeFailed, callErr, "rejected"
		d.logger.Warn("target rejected item", "item", item.String(), "target", target, "rejections", rec.Rejections, "error", callErr)
	default:
		rec.Status = models.StatusFailed
		rec.ErrorMessage = callErr.Error()
		res.Outcome, res.Err = models.OutcomeFailed, callErr
		if shared.IsTransient(callErr) {
			res.Reason = "transient"
		}
		d.logger.Error("dispatch failed", "item", item.String(), "target", target, "error", callErr)
	}

	if err := d.ledger.Record(ctx, rec); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Dispatcher) call(ctx context.Context, item models.WatchItem) (services.AddOutcome, error) {
	switch item.Kind {
	case models.KindMovie:
		return d.movies.AddMovie(ctx, item)
	case models.KindShow:
		return d.series.AddSeries(ctx, item)
	default:
		return 0, errors.New("unknown media kind " + string(item.Kind))
	}
}

func (d *Dispatcher) hasTarget(kind models.MediaKind) bool {
	switch kind {
	case models.KindMovie:
		return d.movies != nil
	case models.KindShow:
		return d.series != nil
	default:
		return false
	}
}

func skipped(item models.WatchItem, target, reason string, err error) models.Result {
	return models.Result{Item: item, Target: target, Outcome: models.OutcomeSkipped, Reason: reason, Err: err}
}
