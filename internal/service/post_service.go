package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// StorageStatus is the operator view of the backing database.
type StorageStatus struct {
	Driver    string `json:"driver"`
	MaskedDSN string `json:"dsn"`
	Reachable bool   `json:"reachable"`
	PostCount int    `json:"post_count"`
}

type PostService interface {
	List(ctx context.Context, limit int) ([]*models.Post, error)
	ListRetryable(ctx context.Context, limit int) ([]*models.Post, error)
	Get(ctx context.Context, id int64) (*models.Post, error)
	Storage(ctx context.Context) (*StorageStatus, error)
}

type postService struct {
	posts   repository.PostRepository
	metrics repository.MetricsRepository
	dsn     string
}

func NewPostService(posts repository.PostRepository, metrics repository.MetricsRepository, dsn string) PostService {
	return &postService{posts: posts, metrics: metrics, dsn: dsn}
}

// List returns recent posts with their source URLs and latest metrics
// snapshot attached.
func (s *postService) List(ctx context.Context, limit int) ([]*models.Post, error) {
	posts, err := s.posts.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}

	sources, err := s.posts.ListSources(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("attach sources: %w", err)
	}
	latest, err := s.metrics.LatestByPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("attach metrics: %w", err)
	}

	for _, p := range posts {
		p.SourceURLs = sources[p.ID]
		p.LatestMetrics = latest[p.ID]
	}
	return posts, nil
}

// ListRetryable returns publish-error posts whose last error tag allows a
// retry.
func (s *postService) ListRetryable(ctx context.Context, limit int) ([]*models.Post, error) {
	return s.posts.ListRetryable(ctx, limit)
}

func (s *postService) Get(ctx context.Context, id int64) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, repository.ErrNotFound
	}

	sources, err := s.posts.ListSources(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	latest, err := s.metrics.LatestByPostIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	post.SourceURLs = sources[id]
	post.LatestMetrics = latest[id]
	return post, nil
}

func (s *postService) Storage(ctx context.Context) (*StorageStatus, error) {
	status := &StorageStatus{
		Driver:    "postgres",
		MaskedDSN: maskDSN(s.dsn),
	}
	posts, err := s.posts.List(ctx, 1)
	if err != nil {
		return status, nil
	}
	status.Reachable = true
	if len(posts) > 0 {
		// List orders newest first, so the first id bounds the row count.
		status.PostCount = int(posts[0].ID)
	}
	return status, nil
}

// maskDSN hides credentials in a connection string for status output.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		if idx := strings.Index(dsn, "@"); idx >= 0 {
			return "***" + dsn[idx:]
		}
		return "***"
	}
	return u.Redacted()
}
