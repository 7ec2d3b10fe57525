package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// MetricsSyncResult summarizes one engagement snapshot pass.
type MetricsSyncResult struct {
	Checked   int      `json:"checked"`
	Collected int      `json:"collected"`
	Errors    []string `json:"errors,omitempty"`
}

// RemoteSyncResult is the combined output of a full remote-state sync.
type RemoteSyncResult struct {
	Ran       bool             `json:"ran"`
	Reconcile *ReconcileResult `json:"reconcile,omitempty"`
	Liveness  *LivenessResult  `json:"liveness,omitempty"`
	Metrics   *MetricsSyncResult `json:"metrics,omitempty"`
	RanAt     *time.Time       `json:"ran_at,omitempty"`
}

type MetricsService interface {
	// SyncRecent collects fresh engagement snapshots for published posts.
	SyncRecent(ctx context.Context, limit int) (*MetricsSyncResult, error)
	// AutoSync runs reconciliation, liveness, and metrics collection at
	// most once per configured interval; concurrent triggers collapse.
	AutoSync(ctx context.Context) (*RemoteSyncResult, error)
	// ForceSync runs the full pass regardless of the interval.
	ForceSync(ctx context.Context) (*RemoteSyncResult, error)
}

type metricsService struct {
	posts     repository.PostRepository
	metrics   repository.MetricsRepository
	graph     RemoteMediaAPI
	reconcile ReconcileService

	interval     time.Duration
	syncLimit    int
	lookback     time.Duration

	mu        sync.Mutex
	lastRunAt time.Time
}

func NewMetricsService(
	posts repository.PostRepository,
	metrics repository.MetricsRepository,
	graph RemoteMediaAPI,
	reconcile ReconcileService,
	intervalMinutes, syncLimit, lookbackHours int,
) MetricsService {
	return &metricsService{
		posts:     posts,
		metrics:   metrics,
		graph:     graph,
		reconcile: reconcile,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		syncLimit: syncLimit,
		lookback:  time.Duration(lookbackHours) * time.Hour,
	}
}

func (s *metricsService) SyncRecent(ctx context.Context, limit int) (*MetricsSyncResult, error) {
	result := &MetricsSyncResult{}

	posts, err := s.posts.ListForMetricsSync(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts for metrics: %w", err)
	}

	for _, post := range posts {
		if post.IGMediaID == "" {
			continue
		}
		result.Checked++

		m, err := s.graph.MediaMetrics(ctx, post.IGMediaID)
		if err != nil {
			result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
			continue
		}

		snap := snapshotFromMetrics(post.ID, m)
		if _, err := s.metrics.InsertSnapshot(ctx, snap); err != nil {
			result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
			continue
		}
		result.Collected++
	}

	slog.Info("metrics sync finished", "checked", result.Checked, "collected", result.Collected, "errors", len(result.Errors))
	return result, nil
}

// snapshotFromMetrics maps the Graph insight counters onto a stored
// snapshot. Engagement rate is computed from interactions over reach when
// the API does not report it.
func snapshotFromMetrics(postID int64, m *meta.MediaMetrics) *models.MetricsSnapshot {
	snap := &models.MetricsSnapshot{
		PostID:      postID,
		CollectedAt: time.Now(),
		Impressions: m.Views,
		Reach:       m.Reach,
		Likes:       m.Likes,
		Comments:    m.Comments,
		Saves:       m.Saves,
		Shares:      m.Shares,
	}

	if m.TotalInteractions != nil && m.Reach != nil && *m.Reach > 0 {
		rate := float64(*m.TotalInteractions) / float64(*m.Reach) * 100
		snap.EngagementRate = &rate
	}

	if len(m.Raw) > 0 {
		raw := make(models.Document, len(m.Raw))
		for k, v := range m.Raw {
			raw[k] = v
		}
		snap.RawPayload = raw
	}
	return snap
}

func (s *metricsService) AutoSync(ctx context.Context) (*RemoteSyncResult, error) {
	s.mu.Lock()
	if time.Since(s.lastRunAt) < s.interval {
		last := s.lastRunAt
		s.mu.Unlock()
		return &RemoteSyncResult{Ran: false, RanAt: &last}, nil
	}
	s.lastRunAt = time.Now()
	s.mu.Unlock()

	return s.runFullSync(ctx)
}

func (s *metricsService) ForceSync(ctx context.Context) (*RemoteSyncResult, error) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.mu.Unlock()

	return s.runFullSync(ctx)
}

func (s *metricsService) runFullSync(ctx context.Context) (*RemoteSyncResult, error) {
	now := time.Now()
	result := &RemoteSyncResult{Ran: true, RanAt: &now}

	rec, err := s.reconcile.Reconcile(ctx, s.syncLimit, s.lookback)
	if err != nil {
		slog.Error("reconcile pass failed", "error", err.Error())
	} else {
		result.Reconcile = rec
	}

	live, err := s.reconcile.SyncLiveness(ctx, s.syncLimit)
	if err != nil {
		slog.Error("liveness pass failed", "error", err.Error())
	} else {
		result.Liveness = live
	}

	metrics, err := s.SyncRecent(ctx, s.syncLimit)
	if err != nil {
		slog.Error("metrics pass failed", "error", err.Error())
	} else {
		result.Metrics = metrics
	}

	return result, nil
}
