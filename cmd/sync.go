package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/lumarr/internal/formatter"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/server"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/desertthunder/lumarr/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Sync runs a single pass, or follows the sources until interrupted.
//
// A one-shot pass returns [shared.ErrSyncFailed] when any source or item failed.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	overrides := shared.Config{Sync: shared.SyncConfig{
		DryRun:         cmd.Bool("dry-run"),
		ForceRefresh:   cmd.Bool("force-refresh"),
		IgnoreExisting: cmd.Bool("ignore-existing"),
		MinRating:      cmd.Float("min-rating"),
	}}
	if err := r.config.Merge(overrides); err != nil {
		return err
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	p := r.newPipeline(db)
	progress := make(chan tasks.ProgressUpdate, 64)
	orchestrator := r.orchestrator(p, progress)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range progress {
			r.logger.Debug(u.Message, "state", u.State)
		}
	}()
	defer func() {
		close(progress)
		wg.Wait()
	}()

	if r.config.Sync.DryRun {
		r.logger.Info("dry run: targets will not be called and nothing will be recorded")
	}
	r.logger.Info("starting sync", "sources", strings.Join(p.sourceNames(), ","), "targets", strings.Join(p.targetNames(), ","))

	if cmd.Bool("follow") {
		return r.follow(ctx, orchestrator, p, format)
	}

	summary, err := orchestrator.RunOnce(ctx)
	if werr := formatter.WriteSummary(r.output, summary, format, cmd.Bool("items")); werr != nil {
		r.logger.Warn("failed to write summary", "error", werr)
	}
	if err != nil {
		return err
	}
	if summary.Failed() {
		return shared.ErrSyncFailed
	}
	return nil
}

func (r *Runner) follow(ctx context.Context, o *tasks.Orchestrator, p *pipeline, format formatter.Format) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan struct{})
	if r.config.Server.Enabled {
		handler := server.NewStatusServer(&server.StatusHandler{
			Reporter: o,
			Ledger:   p.ledger,
			Sources:  p.sourceNames(),
			Targets:  p.targetNames(),
		}, r.logger)

		go func() {
			defer close(served)
			if err := server.ListenAndServe(ctx, r.config.Server.Addr(), handler, r.logger); err != nil {
				r.logger.Error("status server failed", "error", err)
			}
		}()
	} else {
		close(served)
	}

	err := o.Follow(ctx, func(summary *models.PassSummary) {
		if summary.Failed() {
			r.logger.Warn("pass finished with failures", "run_id", summary.RunID, "summary", tasks.Describe(summary))
		}
		if summary.Count(models.OutcomeAdded) > 0 || summary.Failed() || format != formatter.FormatText {
			if werr := formatter.WriteSummary(r.output, summary, format, false); werr != nil {
				r.logger.Warn("failed to write summary", "error", werr)
			}
		}
	})

	cancel()
	<-served
	return err
}
