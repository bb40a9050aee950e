package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/tidewatch/internal/formatter"
	"github.com/desertthunder/tidewatch/internal/shared"
	"github.com/desertthunder/tidewatch/internal/tasks"
	"github.com/desertthunder/tidewatch/internal/ui"
	"github.com/urfave/cli/v3"
)

// Check runs a single check cycle and prints the report.
func (r *Runner) Check(ctx context.Context, cmd *cli.Command) error {
	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := monitor.CheckNow(ctx)
	if err != nil {
		return err
	}

	return r.writePlain("%s", formatter.ReportToText(report))
}

// Status prints engine state: playlist counts, queue depth, and the last
// cycle summary.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := monitor.Status()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}
	return r.writePlain("%s", formatter.StatusToText(status))
}

// Serve runs the scheduler loop until SIGINT or SIGTERM.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler := r.newScheduler(monitor)
	scheduler.Start()
	r.logger.Info("scheduler started", "interval", r.config.Scheduler.Interval())

	if r.config.Scheduler.InitialCheck && !cmd.Bool("no-initial-check") {
		scheduler.TriggerNow()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	r.logger.Info("shutting down")
	scheduler.Stop()
	return nil
}

// Watch runs the scheduler with the live terminal dashboard.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with dashboard rendering
	fileLogger, err := shared.NewFileLogger("./tmp/tidewatch-watch.log")
	if err != nil {
		return err
	}
	r.SetLogger(fileLogger)

	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler := r.newScheduler(monitor)
	scheduler.Start()
	defer scheduler.Stop()

	if r.config.Scheduler.InitialCheck {
		scheduler.TriggerNow()
	}

	model := ui.NewModel(monitor, scheduler)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return err
	}
	return nil
}

// newScheduler wires a scheduler to the monitor's check cycle. A cycle
// refusal because one is already in flight is not a cycle error.
func (r *Runner) newScheduler(monitor *tasks.Monitor) *tasks.Scheduler {
	check := func(ctx context.Context) error {
		_, err := monitor.CheckNow(ctx)
		if errors.Is(err, shared.ErrCheckRunning) {
			return nil
		}
		return err
	}

	return tasks.NewScheduler(
		r.config.Scheduler.Interval(),
		r.config.Scheduler.ShutdownGraceDuration(),
		check,
		r.logger,
	)
}
