package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/lumarr/internal/formatter"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/urfave/cli/v3"
)

// Baseline captures the current contents of each source as already handled, or resets it.
//
// Capturing adds to an existing baseline. A source whose fetch fails or comes back partial is skipped.
func (r *Runner) Baseline(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	p := r.newPipeline(db)
	only := cmd.String("source")

	if cmd.Bool("reset") {
		n, err := p.ledger.ResetBaseline(ctx, only)
		if err != nil {
			return err
		}
		target := "all sources"
		if only != "" {
			target = only
		}
		return r.writePlain("✓ Reset baseline for %s (%d items forgotten)\n", target, n)
	}

	sources := p.sources
	if only != "" {
		sources = nil
		for _, s := range p.sources {
			if s.Name() == only {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("%w: source %q is not enabled", shared.ErrInvalidArgument, only)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: no source is enabled", shared.ErrInvalidConfig)
	}

	var failed []error
	for _, src := range sources {
		result, err := src.Fetch(ctx, services.FetchOptions{ForceRefresh: r.config.Sync.ForceRefresh})
		if err == nil && result.Partial {
			err = errors.Join(result.Failures...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("skipping baseline capture", "source", src.Name(), "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		keys := make([]string, 0, len(result.Items))
		for _, item := range result.Items {
			keys = append(keys, item.Key())
		}
		n, err := p.ledger.BaselineMark(ctx, src.Name(), keys)
		if err != nil {
			return err
		}
		r.writePlain("✓ %s: %d items in baseline (%d new)\n", src.Name(), len(keys), n)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", shared.ErrSyncFailed, errors.Join(failed...))
	}
	return nil
}

// History prints ledger rows, most recent first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	filter := models.HistoryFilter{
		Limit:  int(cmd.Int("limit")),
		Target: cmd.String("target"),
		Source: cmd.String("source"),
	}
	if s := cmd.String("status"); s != "" {
		filter.Status = models.Status(strings.ToLower(s))
		if !filter.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidFlag, s)
		}
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := r.newPipeline(db).ledger.History(ctx, filter)
	if err != nil {
		return err
	}
	return formatter.WriteHistory(r.output, records, format)
}

// Status prints configured sources and targets with ledger, baseline and cache counts.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	p := r.newPipeline(db)
	report := formatter.StatusReport{
		Sources:  p.sourceNames(),
		Targets:  p.targetNames(),
		Baseline: map[string]int{},
	}

	if report.Counts, err = p.ledger.Counts(ctx); err != nil {
		return err
	}
	if report.Cached, err = p.cache.Count(ctx); err != nil {
		return err
	}
	for _, name := range report.Sources {
		keys, err := p.ledger.BaselineKeys(ctx, name)
		if err != nil {
			return err
		}
		if keys.Cardinality() > 0 {
			report.Baseline[name] = keys.Cardinality()
		}
	}

	if err := formatter.WriteStatus(r.output, report, format); err != nil {
		return err
	}

	if cmd.Bool("ping") {
		return r.ping(ctx, p)
	}
	return nil
}

type pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

func (r *Runner) ping(ctx context.Context, p *pipeline) error {
	var targets []pinger
	if t, ok := p.movies.(pinger); ok {
		targets = append(targets, t)
	}
	if t, ok := p.series.(pinger); ok {
		targets = append(targets, t)
	}

	var failed []error
	for _, t := range targets {
		if err := t.Ping(ctx); err != nil {
			r.writePlain("✗ %s: %v\n", t.Name(), err)
			failed = append(failed, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		r.writePlain("✓ %s reachable\n", t.Name())
	}
	return errors.Join(failed...)
}

// Clear deletes ledger rows, or every cached entry with --cache. It refuses to run without --yes.
func (r *Runner) Clear(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: pass --yes to confirm the deletion", shared.ErrMissingArgument)
	}

	status := models.Status(strings.ToLower(cmd.String("status")))
	if status != "" && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidFlag, status)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	p := r.newPipeline(db)

	if cmd.Bool("cache") {
		n, err := p.cache.Invalidate(ctx, "")
		if err != nil {
			return err
		}
		return r.writePlain("✓ Cleared %d cache entries\n", n)
	}

	n, err := p.ledger.Clear(ctx, status)
	if err != nil {
		return err
	}
	r.logger.Info("cleared ledger rows", "count", n, "status", status)
	return r.writePlain("✓ Cleared %d ledger rows\n", n)
}
