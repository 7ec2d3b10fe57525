package models

import (
	"sort"
	"time"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusError      QueueStatus = "error"
)

// QueueItem is one calendar-dated scheduled publish job. scheduled_date is
// the natural unique key: at most one entry per day.
type QueueItem struct {
	ID            int64       `json:"id"`
	ScheduledDate string      `json:"scheduled_date"` // YYYY-MM-DD
	ScheduledTime string      `json:"scheduled_time,omitempty"`
	Topic         string      `json:"topic,omitempty"`
	Template      *int        `json:"template,omitempty"`
	Status        QueueStatus `json:"status"`
	RunsTotal     int         `json:"runs_total"`
	RunsCompleted int         `json:"runs_completed"`
	PostID        *int64      `json:"post_id,omitempty"`
	Message       string      `json:"message,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

const (
	MinPostsPerDay = 1
	MaxPostsPerDay = 10
)

// DayNames indexes weekdays the way time.Weekday does not: Monday first,
// matching the stored weekly schedule keys.
var DayNames = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// DayNameFor maps a time.Weekday onto the schedule key.
func DayNameFor(w time.Weekday) string {
	// time.Weekday has Sunday == 0.
	return DayNames[(int(w)+6)%7]
}

type DaySchedule struct {
	Enabled     bool     `json:"enabled"`
	Time        string   `json:"time,omitempty"` // primary HH:MM slot
	Times       []string `json:"times,omitempty"`
	PostsPerDay int      `json:"posts_per_day,omitempty"`
}

// Slots returns the day's publish times, deduplicated and sorted.
func (d DaySchedule) Slots() []string {
	seen := make(map[string]struct{})
	var slots []string
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		slots = append(slots, t)
	}
	add(d.Time)
	for _, t := range d.Times {
		add(t)
	}
	sort.Strings(slots)
	return slots
}

// ClampedPostsPerDay bounds posts_per_day to the allowed range.
func (d DaySchedule) ClampedPostsPerDay() int {
	n := d.PostsPerDay
	if n < MinPostsPerDay {
		return MinPostsPerDay
	}
	if n > MaxPostsPerDay {
		return MaxPostsPerDay
	}
	return n
}

type WeekSchedule map[string]DaySchedule

// SchedulerConfig is the singleton weekly scheduling configuration.
type SchedulerConfig struct {
	Enabled  bool         `json:"enabled"`
	Schedule WeekSchedule `json:"schedule"`
}

// DefaultSchedulerConfig is returned when no config row exists yet:
// disabled, with every day off and a placeholder morning slot.
func DefaultSchedulerConfig() *SchedulerConfig {
	schedule := make(WeekSchedule, len(DayNames))
	for _, day := range DayNames {
		schedule[day] = DaySchedule{Enabled: false, Time: "08:30", PostsPerDay: 1}
	}
	return &SchedulerConfig{Enabled: false, Schedule: schedule}
}
