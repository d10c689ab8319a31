package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuslife/bookingagent/cmd"
	"github.com/campuslife/bookingagent/internal/observability"
)

func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM)
	// for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
