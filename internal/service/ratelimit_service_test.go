package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateStatusCountsWindowOnly(t *testing.T) {
	repo := newFakePostRepo()
	now := time.Now()
	repo.attemptTimes = []time.Time{
		now.Add(-30 * time.Hour), // outside the 24h window
		now.Add(-10 * time.Hour),
		now.Add(-1 * time.Hour),
	}
	svc := NewRateLimitService(repo, 24, 25)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, status.Count)
	assert.Equal(t, 25, status.Limit)
	assert.False(t, status.Exhausted())
	require.NotNil(t, status.OldestAttemptAt)
	assert.WithinDuration(t, now.Add(-10*time.Hour), *status.OldestAttemptAt, time.Second)
	// The oldest in-window attempt ages out after window - age, whether or
	// not the cap is reached.
	assert.InDelta(t, 14*60, status.NextSlotInMinutes, 2)
}

func TestRateStatusExhaustedComputesNextSlot(t *testing.T) {
	repo := newFakePostRepo()
	now := time.Now()
	// Limit 2, both attempts inside the window; the older one frees up in
	// roughly 4 hours.
	repo.attemptTimes = []time.Time{
		now.Add(-20 * time.Hour),
		now.Add(-2 * time.Hour),
	}
	svc := NewRateLimitService(repo, 24, 2)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Exhausted())
	assert.InDelta(t, 4*60, status.NextSlotInMinutes, 2)
}

func TestRateStatusEmptyLedger(t *testing.T) {
	svc := NewRateLimitService(newFakePostRepo(), 24, 25)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.Zero(t, status.Count)
	assert.Nil(t, status.OldestAttemptAt)
	assert.False(t, status.Exhausted())
}
