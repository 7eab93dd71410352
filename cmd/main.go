package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/lumarr/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runner := NewRunner(RunnerOpts{})
	err := runner.app().Run(ctx, os.Args)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, shared.ErrSyncFailed):
		runner.logger.Error("sync finished with failures")
	case errors.Is(err, context.Canceled):
		runner.logger.Warn("interrupted")
	default:
		runner.logger.Error("application error", "error", err)
	}

	runner.Close()
	os.Exit(exitCode(err))
}
