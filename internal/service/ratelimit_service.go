package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dvalenciano/igflow/internal/repository"
)

// RateStatus is the trailing-window publish attempt ledger. Instagram
// enforces a rolling cap on content publishes; the ledger counts both
// successes and failed-but-sent attempts.
type RateStatus struct {
	Count             int        `json:"count"`
	Limit             int        `json:"limit"`
	WindowHours       int        `json:"window_hours"`
	OldestAttemptAt   *time.Time `json:"oldest_attempt_at,omitempty"`
	NextSlotInMinutes int        `json:"next_slot_in_minutes"`
}

// Exhausted reports whether a new publish attempt would exceed the cap.
func (r RateStatus) Exhausted() bool {
	return r.Count >= r.Limit
}

type RateLimitService interface {
	Status(ctx context.Context) (*RateStatus, error)
}

type rateLimitService struct {
	posts       repository.PostRepository
	windowHours int
	limit       int
}

func NewRateLimitService(posts repository.PostRepository, windowHours, limit int) RateLimitService {
	return &rateLimitService{posts: posts, windowHours: windowHours, limit: limit}
}

func (s *rateLimitService) Status(ctx context.Context) (*RateStatus, error) {
	window := time.Duration(s.windowHours) * time.Hour
	since := time.Now().Add(-window)

	times, err := s.posts.ListAttemptTimes(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("rate ledger: %w", err)
	}

	status := &RateStatus{
		Count:       len(times),
		Limit:       s.limit,
		WindowHours: s.windowHours,
	}

	var oldest *time.Time
	for i := range times {
		if oldest == nil || times[i].Before(*oldest) {
			oldest = &times[i]
		}
	}
	status.OldestAttemptAt = oldest

	// Capacity frees up when the oldest attempt ages out of the window.
	if oldest != nil {
		remaining := window - time.Since(*oldest)
		if remaining < 0 {
			remaining = 0
		}
		status.NextSlotInMinutes = int(remaining / time.Minute)
	}
	return status, nil
}
