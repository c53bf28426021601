//go:build windows

package main

import (
	"context"
	"log/slog"
)

// Windows has no user signals; pause/resume is unavailable from outside the process.
func watchForegroundSignals(ctx context.Context, log *slog.Logger, p pauser) {
	<-ctx.Done()
}
