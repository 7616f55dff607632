package system

import (
	"fmt"

	"github.com/julianstephens/habitual/internal/cli"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/metrics"
)

// RunCmd keeps the tracker subscribed and delivers reminders until
// interrupted.
type RunCmd struct {
	MetricsAddr string `help:"Serve Prometheus metrics on this address (default: metrics.addr)." default:""`
}

func (c *RunCmd) Run(ctx *cli.Context) error {
	_, alarms, err := ctx.Reminders()
	if err != nil {
		return err
	}
	t, err := ctx.ScheduledTracker()
	if err != nil {
		return err
	}

	addr := c.MetricsAddr
	if addr == "" {
		addr = ctx.Config.Metrics.Addr
	}
	metricsErr := make(chan error, 1)
	if addr != "" {
		go func() { metricsErr <- metrics.Serve(ctx.Ctx, addr) }()
	}

	log := logger.With("driver", ctx.Config.Remote.Driver, "user", t.UserID())
	updates := 0
	fmt.Fprintf(ctx.Out, "Tracking %d habits, %d reminders armed. Press Ctrl+C to stop.\n", len(t.Habits()), len(alarms.Pending()))
	if msg := t.Err(); msg != "" {
		fmt.Fprintln(ctx.Out, cli.WarningStyle.Render(msg))
	}

	snapshots, unsubscribe := t.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Ctx.Done():
			log.Info("Shutting down", "updates", updates)
			fmt.Fprintln(ctx.Out, "Stopped.")
			return nil
		case err := <-metricsErr:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
		case habits, ok := <-snapshots:
			if !ok {
				return nil
			}
			updates++
			log.Debug("Habits updated", "count", len(habits), "armed", len(alarms.Pending()))
		}
	}
}
