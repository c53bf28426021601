package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/floegence/wakeloop/internal/outbound"
	"github.com/floegence/wakeloop/internal/scheduler"
)

var runObservations []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background scheduler until interrupted",
	Long: `Run the background scheduler in the foreground.

Outbound events (owner messages, self-scheduled tasks, usage reports) are
written to the log. On unix, SIGUSR1 pauses thinking and SIGUSR2 resumes it.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runObservations, "observe", nil, "Observation to queue before the first wake (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{lock: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, o := range runObservations {
		a.scheduler.InjectObservation(o)
	}

	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})
	g.Go(func() error {
		defer close(stopped)
		// Model calls outlive cancellation; Stop lets a cycle in flight finish.
		if !a.scheduler.Start(context.WithoutCancel(gctx)) {
			return errors.New("scheduler already running")
		}
		<-gctx.Done()
		a.log.Info("stopping background scheduler")
		a.scheduler.Stop()
		return nil
	})
	g.Go(func() error {
		drainOutbound(stopped, a.log, a.outbound)
		return nil
	})
	g.Go(func() error {
		watchForegroundSignals(gctx, a.log, a.scheduler)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	st := a.scheduler.Status()
	a.log.Info("background scheduler stopped", "cycles", st.Cycles, "failures", st.Failures, "spent", st.Spent)
	return nil
}

// drainOutbound stands in for the supervisor: it logs every event until stopped closes, then
// flushes what is left. stopped must close only after the scheduler has fully stopped.
func drainOutbound(stopped <-chan struct{}, log *slog.Logger, ch *outbound.Channel) {
	for {
		select {
		case e := <-ch.C():
			logOutbound(log, e)
		case <-stopped:
			for {
				select {
				case e := <-ch.C():
					logOutbound(log, e)
				default:
					return
				}
			}
		}
	}
}

func logOutbound(log *slog.Logger, e outbound.Event) {
	attrs := []any{"id", e.ID, "type", e.Type}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	log.Info("outbound event", attrs...)
}

type pauser interface {
	Pause()
	Resume()
}

var _ pauser = (*scheduler.Scheduler)(nil)
