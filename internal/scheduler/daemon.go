package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	configs "github.com/dvalenciano/igflow/configs"
	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// PipelineRunner is the generation+publish pipeline the daemon fires for a
// due slot. It runs synchronously and returns the created post id when one
// was created.
type PipelineRunner interface {
	RunScheduled(ctx context.Context, topic string, template *int) (*int64, error)
}

// Daemon is the cooperative polling loop that drives the calendar queue.
// One goroutine, fixed tick interval, no overlap: the run guard serializes
// pipeline work against manual API triggers.
type Daemon struct {
	cfg      *configs.Config
	queue    repository.QueueRepository
	guard    *RunGuard
	pipeline PipelineRunner
	location *time.Location

	// now is swapped out in tests
	now func() time.Time
}

func NewDaemon(cfg *configs.Config, queue repository.QueueRepository, guard *RunGuard, pipeline PipelineRunner) *Daemon {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, falling back to UTC", "timezone", cfg.Timezone)
		loc = time.UTC
	}
	return &Daemon{
		cfg:      cfg,
		queue:    queue,
		guard:    guard,
		pipeline: pipeline,
		location: loc,
		now:      time.Now,
	}
}

// Start runs the polling loop until ctx is cancelled. Call it in its own
// goroutine.
func (d *Daemon) Start(ctx context.Context) {
	grace := time.Duration(d.cfg.SchedulerGraceSeconds) * time.Second
	interval := time.Duration(d.cfg.SchedulerPollSeconds) * time.Second

	slog.Info("scheduler daemon starting", "interval", interval.String(), "timezone", d.location.String())

	select {
	case <-ctx.Done():
		return
	case <-time.After(grace):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.safeTick(ctx)
		select {
		case <-ctx.Done():
			slog.Info("scheduler daemon stopping")
			return
		case <-ticker.C:
		}
	}
}

// safeTick keeps a panicking tick from killing the loop.
func (d *Daemon) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := d.tick(ctx, d.now().In(d.location)); err != nil {
		slog.Error("scheduler tick failed", "error", err.Error())
	}
}

// tick evaluates one poll: is there a due slot today, and is the system
// free to run it.
func (d *Daemon) tick(ctx context.Context, now time.Time) error {
	cfg, err := d.queue.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler config: %w", err)
	}
	if !cfg.Enabled {
		return nil
	}

	day, ok := cfg.Schedule[models.DayNameFor(now.Weekday())]
	if !ok || !day.Enabled {
		return nil
	}

	staleAge := time.Duration(d.cfg.StaleProcessingHours) * time.Hour
	if recovered, err := d.queue.RecoverStaleProcessing(ctx, staleAge); err != nil {
		slog.Error("stale queue recovery failed", "error", err.Error())
	} else if recovered > 0 {
		slog.Warn("recovered stale queue items", "count", recovered)
	}

	today := now.Format("2006-01-02")
	item, err := d.queue.GetForDate(ctx, today)
	if err != nil {
		return fmt.Errorf("load queue item for %s: %w", today, err)
	}
	if item == nil || item.Status != models.QueueStatusPending {
		return nil
	}

	due := dueRuns(now, item, day)
	if item.RunsCompleted >= due {
		return nil
	}

	// Cheap pre-check before touching the database; the guard is claimed
	// for real below, which closes the check-then-act race.
	if d.guard.Snapshot().Busy {
		return nil
	}

	runID, ok := d.guard.TryAcquire(fmt.Sprintf("scheduled:%s", today))
	if !ok {
		return nil
	}
	defer d.guard.Release(runID)

	if err := d.queue.MarkProcessing(ctx, item.ID); err != nil {
		return fmt.Errorf("claim queue item %d: %w", item.ID, err)
	}

	slog.Info("firing scheduled run",
		"queue_id", item.ID,
		"date", today,
		"run", item.RunsCompleted+1,
		"runs_total", item.RunsTotal,
		"topic", item.Topic,
	)

	postID, runErr := d.pipeline.RunScheduled(ctx, item.Topic, item.Template)
	if runErr != nil {
		slog.Error("scheduled run failed", "queue_id", item.ID, "error", runErr.Error())
		if merr := d.queue.MarkError(ctx, item.ID, runErr.Error()); merr != nil {
			slog.Error("mark queue error failed", "queue_id", item.ID, "error", merr.Error())
		}
		return nil
	}

	completed := item.RunsCompleted + 1
	message := fmt.Sprintf("run %d/%d ok", completed, item.RunsTotal)
	if completed >= item.RunsTotal {
		err = d.queue.MarkCompleted(ctx, item.ID, postID, message, item.RunsTotal)
	} else {
		err = d.queue.MarkPending(ctx, item.ID, completed, item.RunsTotal, postID, message)
	}
	if err != nil {
		return fmt.Errorf("record queue result %d: %w", item.ID, err)
	}

	slog.Info("scheduled run finished", "queue_id", item.ID, "run", completed, "runs_total", item.RunsTotal)
	return nil
}

// dueRuns counts how many of today's slots have already passed. The item's
// own scheduled_time overrides the first configured slot; when the item
// wants more runs than the day has slots, the last slot covers the rest.
func dueRuns(now time.Time, item *models.QueueItem, day models.DaySchedule) int {
	slots := day.Slots()
	if item.ScheduledTime != "" {
		if len(slots) == 0 {
			slots = []string{item.ScheduledTime}
		} else {
			slots[0] = item.ScheduledTime
		}
	}
	if len(slots) == 0 {
		return 0
	}

	runs := item.RunsTotal
	if runs < 1 {
		runs = 1
	}
	for len(slots) < runs {
		slots = append(slots, slots[len(slots)-1])
	}

	due := 0
	for i := 0; i < runs; i++ {
		h, m, ok := parseSlot(slots[i])
		if !ok {
			continue
		}
		slotAt := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		if !now.Before(slotAt) {
			due++
		}
	}
	return due
}

func parseSlot(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
