package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/sourcegraph/conc/pool"
)

// DefaultInterval is used for sources without a configured follow interval.
const DefaultInterval = 30 * time.Second

// Purger drops expired cache entries at the end of a pass.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// OrchestratorOpts wires an [Orchestrator].
type OrchestratorOpts struct {
	Sources    []services.Source
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Ledger     Ledger
	Cache      Purger // optional
	Clock      clock.Clock
	Logger     *log.Logger
	Progress   chan<- ProgressUpdate // optional, never blocks

	Concurrency    int
	DryRun         bool
	ForceRefresh   bool
	IgnoreExisting bool
	MinRating      float64
	Intervals      map[string]time.Duration // per source name, follow mode only
}

// Orchestrator runs sync passes: fetch every source, resolve identifiers, dispatch to targets and
// record the outcome in the ledger.
type Orchestrator struct {
	opts   OrchestratorOpts
	clock  clock.Clock
	logger *log.Logger

	mu    sync.RWMutex
	state State
	last  *models.PassSummary
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts OrchestratorOpts) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{opts: opts, clock: opts.Clock, logger: opts.Logger, state: Idle}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastPass returns the most recent pass summary, or nil before the first pass.
func (o *Orchestrator) LastPass() *models.PassSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.sendProgress(stateUpdate(s))
}

// sendProgress sends a progress update through the channel without blocking.
func (o *Orchestrator) sendProgress(update ProgressUpdate) {
	if o.opts.Progress == nil {
		return
	}
	select {
	case o.opts.Progress <- update:
	default:
	}
}

// RunOnce performs a single pass over every source.
//
// The returned error is non-nil when the pass was aborted: ctx was cancelled or the ledger could not
// be written. Item and source failures are reported in the summary only.
func (o *Orchestrator) RunOnce(ctx context.Context) (*models.PassSummary, error) {
	summary, err := o.pass(ctx, o.opts.Sources)
	o.setState(Idle)
	return summary, err
}

// Follow runs an initial pass and then keeps polling each source on its own interval until ctx is
// cancelled, then returns ctx.Err(). Pass errors are logged and do not stop the loop. report, if set,
// receives every summary, including the one for a pass cut short by cancellation.
func (o *Orchestrator) Follow(ctx context.Context, report func(*models.PassSummary)) error {
	nextDue := make(map[string]time.Time, len(o.opts.Sources))

	run := func(sources []services.Source) {
		tick := o.clock.Now()
		for _, s := range sources {
			nextDue[s.Name()] = tick.Add(o.interval(s.Name()))
		}

		summary, err := o.pass(ctx, sources)
		if err != nil && ctx.Err() == nil {
			o.logger.Error("pass aborted", "run_id", summary.RunID, "error", err)
		}
		if report != nil {
			report(summary)
		}
	}

	run(o.opts.Sources)

	for {
		if ctx.Err() != nil {
			o.setState(Stopped)
			return ctx.Err()
		}

		wake, names := o.earliest(nextDue)
		o.setState(Sleeping)
		o.sendProgress(sleepingUpdate(wake, names))

		if wait := wake.Sub(o.clock.Now()); wait > 0 {
			timer := o.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				o.setState(Stopped)
				return ctx.Err()
			case <-timer.C():
				timer.Stop()
			}
		}

		now := o.clock.Now()
		var due []services.Source
		for _, s := range o.opts.Sources {
			if !nextDue[s.Name()].After(now) {
				due = append(due, s)
			}
		}
		if len(due) > 0 {
			run(due)
		}
	}
}

func (o *Orchestrator) interval(source string) time.Duration {
	if d, ok := o.opts.Intervals[source]; ok && d > 0 {
		return d
	}
	return DefaultInterval
}

func (o *Orchestrator) earliest(nextDue map[string]time.Time) (time.Time, []string) {
	var wake time.Time
	var names []string
	for name, at := range nextDue {
		switch {
		case wake.IsZero() || at.Before(wake):
			wake, names = at, []string{name}
		case at.Equal(wake):
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return wake, names
}

// pass runs one pass over sources. It always returns a summary.
func (o *Orchestrator) pass(ctx context.Context, sources []services.Source) (*models.PassSummary, error) {
	summary := &models.PassSummary{
		RunID:     shared.GenerateID(),
		StartedAt: o.clock.Now(),
		DryRun:    o.opts.DryRun,
	}
	logger := shared.WithLogger(o.logger, "run_id", summary.RunID)

	passCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	items, err := o.fetch(passCtx, sources, summary, logger)
	if err == nil {
		err = o.process(passCtx, abort, items, summary, logger)
	}

	o.setState(Recording)
	if o.opts.Cache != nil && !o.opts.DryRun {
		if n, perr := o.opts.Cache.Purge(context.WithoutCancel(ctx)); perr != nil {
			logger.Warn("cache purge failed", "error", perr)
		} else if n > 0 {
			logger.Debug("purged cache entries", "count", n)
		}
	}

	if err == nil {
		if cause := context.Cause(passCtx); cause != nil {
			err = cause
		}
	}
	summary.Aborted = err
	summary.FinishedAt = o.clock.Now()

	o.mu.Lock()
	o.last = summary
	o.mu.Unlock()
	o.sendProgress(recordingUpdate(summary))

	logger.Info("pass finished",
		"added", summary.Count(models.OutcomeAdded),
		"present", summary.Count(models.OutcomeAlreadyPresent),
		"skipped", summary.Count(models.OutcomeSkipped),
		"failed", summary.Count(models.OutcomeFailed),
		"duration", summary.Duration(),
	)
	return summary, err
}

// fetch reads sources one at a time and applies baseline capture. The returned items are unique by key.
func (o *Orchestrator) fetch(ctx context.Context, sources []services.Source, summary *models.PassSummary, logger *log.Logger) ([]models.WatchItem, error) {
	o.setState(FetchingSources)

	seen := mapset.NewThreadUnsafeSet[string]()
	var items []models.WatchItem

	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		name := src.Name()
		o.sendProgress(fetchSourceUpdate(i+1, len(sources), name))

		report := models.SourceReport{Name: name}
		result, err := src.Fetch(ctx, services.FetchOptions{ForceRefresh: o.opts.ForceRefresh})
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			report.Err = err
			summary.Sources = append(summary.Sources, report)
			o.sendProgress(fetchedSourceUpdate(i+1, len(sources), report))
			logger.Error("source fetch failed", "source", name, "error", err)
			continue
		}

		report.Fetched = len(result.Items)
		report.Partial = result.Partial
		if result.Partial {
			report.Err = errors.Join(result.Failures...)
			logger.Warn("source fetch incomplete", "source", name, "items", report.Fetched, "error", report.Err)
		}
		summary.Sources = append(summary.Sources, report)
		o.sendProgress(fetchedSourceUpdate(i+1, len(sources), report))

		fetched := make([]models.WatchItem, 0, len(result.Items))
		for _, item := range result.Items {
			if seen.Add(item.Key()) {
				fetched = append(fetched, item)
			}
		}

		if o.opts.MinRating > 0 && !slices.ContainsFunc(fetched, models.WatchItem.HasRating) && len(fetched) > 0 {
			logger.Debug("source supplies no ratings, min rating filter does not apply", "source", name)
		}

		if o.opts.IgnoreExisting {
			kept, err := o.baseline(ctx, name, fetched, report, summary, logger)
			if err != nil {
				return items, err
			}
			fetched = kept
		}
		items = append(items, fetched...)
	}
	return items, nil
}

// baseline captures the first complete fetch of a source so its current items are never dispatched.
// It returns the items that should continue through the pass.
func (o *Orchestrator) baseline(ctx context.Context, source string, items []models.WatchItem, report models.SourceReport, summary *models.PassSummary, logger *log.Logger) ([]models.WatchItem, error) {
	has, err := o.opts.Ledger.HasBaseline(ctx, source)
	if err != nil {
		return nil, err
	}
	if has {
		return items, nil
	}

	if report.Failed() {
		logger.Warn("skipping baseline capture and dispatch for incomplete fetch", "source", source)
		return nil, nil
	}

	if o.opts.DryRun {
		for _, item := range items {
			summary.Results = append(summary.Results, skipped(item, item.Target(), "baseline", nil))
		}
		return nil, nil
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key())
	}
	n, err := o.opts.Ledger.BaselineMark(ctx, source, keys)
	if err != nil {
		return nil, err
	}
	logger.Info("captured baseline", "source", source, "items", n)
	return items, nil
}

// process resolves and dispatches items with bounded concurrency. A persistence error aborts the pass;
// items not yet started when ctx ends produce no result.
func (o *Orchestrator) process(ctx context.Context, abort context.CancelCauseFunc, items []models.WatchItem, summary *models.PassSummary, logger *log.Logger) error {
	if len(items) == 0 {
		return nil
	}

	results := make([]*models.Result, len(items))
	ready := make([]bool, len(items))

	fail := func(err error) {
		if errors.Is(err, shared.ErrPersistence) {
			logger.Error("ledger write failed, aborting pass", "error", err)
			abort(err)
		}
	}

	o.setState(Resolving)
	o.sendProgress(resolvingUpdate(len(items)))

	p := pool.New().WithMaxGoroutines(o.opts.Concurrency)
	for i := range items {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}

			pre, err := o.opts.Dispatcher.Screen(ctx, items[i])
			if err != nil {
				fail(err)
				return
			}
			if pre != nil {
				results[i] = pre
				return
			}

			resolved, err := o.opts.Resolver.Resolve(ctx, items[i], o.opts.ForceRefresh)
			if err != nil && !errors.Is(err, shared.ErrUnresolvedIdentifier) {
				fail(err)
				return
			}
			items[i] = resolved
			ready[i] = true
		})
	}
	p.Wait()

	if err := context.Cause(ctx); err != nil {
		o.collect(summary, results)
		return err
	}

	o.setState(Dispatching)
	total := 0
	for _, r := range ready {
		if r {
			total++
		}
	}

	var mu sync.Mutex
	step := 0

	p = pool.New().WithMaxGoroutines(o.opts.Concurrency)
	for i := range items {
		if !ready[i] {
			continue
		}
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}

			res, err := o.opts.Dispatcher.Dispatch(ctx, items[i])
			if err != nil {
				fail(err)
				return
			}
			results[i] = &res

			mu.Lock()
			step++
			o.sendProgress(dispatchUpdate(step, total, res))
			mu.Unlock()
		})
	}
	p.Wait()

	o.collect(summary, results)
	return context.Cause(ctx)
}

func (o *Orchestrator) collect(summary *models.PassSummary, results []*models.Result) {
	for _, r := range results {
		if r != nil {
			summary.Results = append(summary.Results, *r)
		}
	}
}

// Describe is a one-line rendering of a summary for logs.
func Describe(s *models.PassSummary) string {
	return fmt.Sprintf("%d added, %d already present, %d skipped, %d failed in %s",
		s.Count(models.OutcomeAdded),
		s.Count(models.OutcomeAlreadyPresent),
		s.Count(models.OutcomeSkipped),
		s.Count(models.OutcomeFailed),
		s.Duration().Round(time.Millisecond),
	)
}
