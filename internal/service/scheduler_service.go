package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

var slotRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// SchedulerState is the operator view of the scheduling subsystem.
type SchedulerState struct {
	Config  *models.SchedulerConfig `json:"config"`
	Queue   []*models.QueueItem     `json:"queue"`
	NextRun *time.Time              `json:"next_run,omitempty"`
}

type SchedulerService interface {
	Config(ctx context.Context) (*models.SchedulerConfig, error)
	SaveConfig(ctx context.Context, cfg *models.SchedulerConfig) error
	AddQueueItem(ctx context.Context, item *models.QueueItem) (int64, error)
	RemoveQueueItem(ctx context.Context, id int64) error
	AutoFill(ctx context.Context, days int) ([]*models.QueueItem, error)
	State(ctx context.Context, windowDays int) (*SchedulerState, error)
}

type schedulerService struct {
	queue    repository.QueueRepository
	location *time.Location
}

func NewSchedulerService(queue repository.QueueRepository, timezone string) SchedulerService {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Warn("invalid timezone, falling back to UTC", "timezone", timezone)
		loc = time.UTC
	}
	return &schedulerService{queue: queue, location: loc}
}

func (s *schedulerService) Config(ctx context.Context) (*models.SchedulerConfig, error) {
	return s.queue.GetConfig(ctx)
}

func (s *schedulerService) SaveConfig(ctx context.Context, cfg *models.SchedulerConfig) error {
	if cfg == nil || cfg.Schedule == nil {
		return fmt.Errorf("schedule config is required")
	}
	for _, day := range models.DayNames {
		d, ok := cfg.Schedule[day]
		if !ok {
			continue
		}
		for _, slot := range d.Slots() {
			if !slotRe.MatchString(slot) {
				return fmt.Errorf("day %s has invalid time %q, want HH:MM", day, slot)
			}
		}
		if d.PostsPerDay < models.MinPostsPerDay || d.PostsPerDay > models.MaxPostsPerDay {
			return fmt.Errorf("day %s posts_per_day must be between %d and %d", day, models.MinPostsPerDay, models.MaxPostsPerDay)
		}
	}
	for key := range cfg.Schedule {
		if !validDayName(key) {
			return fmt.Errorf("unknown day %q in schedule", key)
		}
	}
	return s.queue.SaveConfig(ctx, cfg)
}

func validDayName(name string) bool {
	for _, d := range models.DayNames {
		if d == name {
			return true
		}
	}
	return false
}

func (s *schedulerService) AddQueueItem(ctx context.Context, item *models.QueueItem) (int64, error) {
	date, err := time.ParseInLocation("2006-01-02", item.ScheduledDate, s.location)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduled_date %q, want YYYY-MM-DD", item.ScheduledDate)
	}
	today := time.Now().In(s.location)
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.location)
	if date.Before(todayStart) {
		return 0, fmt.Errorf("cannot schedule %s in the past", item.ScheduledDate)
	}

	if item.ScheduledTime != "" && !slotRe.MatchString(item.ScheduledTime) {
		return 0, fmt.Errorf("invalid scheduled_time %q, want HH:MM", item.ScheduledTime)
	}
	if item.ScheduledTime == "" {
		// Fall back to the weekly config's primary slot for that weekday.
		cfg, err := s.queue.GetConfig(ctx)
		if err != nil {
			return 0, err
		}
		if day, ok := cfg.Schedule[models.DayNameFor(date.Weekday())]; ok {
			if slots := day.Slots(); len(slots) > 0 {
				item.ScheduledTime = slots[0]
			}
		}
	}

	if item.RunsTotal < 1 {
		item.RunsTotal = 1
	}
	if item.RunsTotal > models.MaxPostsPerDay {
		item.RunsTotal = models.MaxPostsPerDay
	}
	item.Status = models.QueueStatusPending

	id, err := s.queue.Add(ctx, item)
	if err != nil {
		return 0, err
	}
	slog.Info("queue item added", "queue_id", id, "date", item.ScheduledDate, "topic", item.Topic)
	return id, nil
}

func (s *schedulerService) RemoveQueueItem(ctx context.Context, id int64) error {
	removed, err := s.queue.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("queue item %d not found or no longer pending", id)
	}
	return nil
}

// AutoFill walks the next N calendar days and queues an item for every
// enabled weekday that does not already have one.
func (s *schedulerService) AutoFill(ctx context.Context, days int) ([]*models.QueueItem, error) {
	if days < 1 {
		days = 7
	}
	if days > 60 {
		days = 60
	}

	cfg, err := s.queue.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(s.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)

	existing, err := s.queue.ListWindow(ctx,
		start.Format("2006-01-02"),
		start.AddDate(0, 0, days).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, item := range existing {
		taken[item.ScheduledDate] = true
	}

	var created []*models.QueueItem
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		dateStr := date.Format("2006-01-02")
		if taken[dateStr] {
			continue
		}
		day, ok := cfg.Schedule[models.DayNameFor(date.Weekday())]
		if !ok || !day.Enabled {
			continue
		}

		item := &models.QueueItem{
			ScheduledDate: dateStr,
			Status:        models.QueueStatusPending,
			RunsTotal:     day.ClampedPostsPerDay(),
		}
		if slots := day.Slots(); len(slots) > 0 {
			item.ScheduledTime = slots[0]
		}

		id, err := s.queue.Add(ctx, item)
		if err != nil {
			// A concurrent add for the same date is not a failure of the
			// fill pass.
			if errors.Is(err, repository.ErrDuplicateDate) {
				continue
			}
			return created, err
		}
		item.ID = id
		created = append(created, item)
	}

	slog.Info("queue auto-fill finished", "days", days, "created", len(created))
	return created, nil
}

func (s *schedulerService) State(ctx context.Context, windowDays int) (*SchedulerState, error) {
	if windowDays < 1 {
		windowDays = 14
	}

	cfg, err := s.queue.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(s.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	items, err := s.queue.ListWindow(ctx,
		start.Format("2006-01-02"),
		start.AddDate(0, 0, windowDays).Format("2006-01-02"))
	if err != nil {
		return nil, err
	}

	state := &SchedulerState{Config: cfg, Queue: items}
	if cfg.Enabled {
		state.NextRun = nextRun(now, items, cfg)
	}
	return state, nil
}

// nextRun finds the earliest future slot among pending queue items.
func nextRun(now time.Time, items []*models.QueueItem, cfg *models.SchedulerConfig) *time.Time {
	var next *time.Time
	for _, item := range items {
		if item.Status != models.QueueStatusPending {
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", item.ScheduledDate, now.Location())
		if err != nil {
			continue
		}

		slot := item.ScheduledTime
		if slot == "" {
			if day, ok := cfg.Schedule[models.DayNameFor(date.Weekday())]; ok {
				if slots := day.Slots(); len(slots) > 0 {
					slot = slots[0]
				}
			}
		}
		if slot == "" {
			slot = "00:00"
		}
		t, err := time.ParseInLocation("2006-01-02 15:04", item.ScheduledDate+" "+slot, now.Location())
		if err != nil || t.Before(now) {
			continue
		}
		if next == nil || t.Before(*next) {
			candidate := t
			next = &candidate
		}
	}
	return next
}
