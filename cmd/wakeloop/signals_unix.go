//go:build !windows

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// watchForegroundSignals maps SIGUSR1/SIGUSR2 to Pause/Resume so a foreground task runner can
// hold off background thinking.
func watchForegroundSignals(ctx context.Context, log *slog.Logger, p pauser) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("foreground busy: pausing background thinking")
				p.Pause()
			case syscall.SIGUSR2:
				log.Info("foreground idle: resuming background thinking")
				p.Resume()
			}
		}
	}
}
