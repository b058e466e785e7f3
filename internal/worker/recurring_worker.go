package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spese/internal/services"
)

// Processor is the recurring processor as seen by the worker.
type Processor interface {
	ProcessAll(ctx context.Context, now time.Time) (services.RunResult, error)
}

// RecurringWorker runs the recurring processor on a cron schedule.
type RecurringWorker struct {
	processor Processor
	cron      *cron.Cron
	schedule  string
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewRecurringWorker parses schedule as a standard cron spec or @every
// descriptor; runs never overlap.
func NewRecurringWorker(processor Processor, schedule string, loc *time.Location) (*RecurringWorker, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	w := &RecurringWorker{
		processor: processor,
		schedule:  schedule,
		now:       time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	return w, nil
}

// RunOnce processes every owner once and logs the outcome.
func (w *RecurringWorker) RunOnce(ctx context.Context) (services.RunResult, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return services.RunResult{}, fmt.Errorf("recurring run already in progress")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	start := w.now()
	res, err := w.processor.ProcessAll(ctx, start)
	if err != nil {
		slog.ErrorContext(ctx, "Recurring run finished with errors",
			"owners", res.Owners,
			"created", res.Created,
			"error", err)
		return res, err
	}

	slog.InfoContext(ctx, "Recurring run complete",
		"owners", res.Owners,
		"rules", res.Rules,
		"created", res.Created,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// Run performs an initial pass, then follows the schedule until ctx is
// cancelled. It waits for an in-flight run before returning ctx.Err().
func (w *RecurringWorker) Run(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { _, _ = w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", w.schedule, err)
	}

	slog.InfoContext(ctx, "Running initial recurring processing")
	_, _ = w.RunOnce(ctx)

	w.cron.Start()
	slog.InfoContext(ctx, "Recurring worker scheduled", "schedule", w.schedule)

	<-ctx.Done()
	stopped := w.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}
