// Package scheduler runs the calendar queue: a polling daemon that fires
// due publication slots and a guard that keeps pipeline runs single-flight.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunGuard serializes pipeline executions inside one process. Only one run
// may hold the guard at a time; concurrent triggers (daemon tick, operator
// API, retry) are rejected instead of queued.
type RunGuard struct {
	mu        sync.Mutex
	held      bool
	runID     string
	label     string
	startedAt time.Time
}

func NewRunGuard() *RunGuard {
	return &RunGuard{}
}

// TryAcquire claims the guard without blocking. It returns the run id and
// true on success, or the holder's label and false when a run is already in
// flight.
func (g *RunGuard) TryAcquire(label string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return g.label, false
	}
	g.held = true
	g.runID = uuid.NewString()
	g.label = label
	g.startedAt = time.Now()
	return g.runID, true
}

// Release frees the guard. The run id must match the acquiring call so a
// stale caller cannot release someone else's run.
func (g *RunGuard) Release(runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held && g.runID == runID {
		g.held = false
		g.runID = ""
		g.label = ""
		g.startedAt = time.Time{}
	}
}

// GuardState is a point-in-time view for status endpoints.
type GuardState struct {
	Busy      bool       `json:"busy"`
	Label     string     `json:"label,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

func (g *RunGuard) Snapshot() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return GuardState{}
	}
	started := g.startedAt
	return GuardState{Busy: true, Label: g.label, StartedAt: &started}
}
