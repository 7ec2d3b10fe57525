package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// publishSkew tolerates clock drift between local created_at stamps and
// Instagram's media timestamps when matching unconfirmed posts.
const publishSkew = 5 * time.Minute

// maxCollectedErrors bounds the per-batch error list so one broken account
// state cannot grow responses without limit.
const maxCollectedErrors = 20

// RemoteMediaAPI is the slice of the Graph client the reconciler needs.
type RemoteMediaAPI interface {
	RecentMedia(ctx context.Context, limit int) ([]meta.MediaItem, error)
	MediaLiveness(ctx context.Context, mediaID string) (alive bool, reason string, err error)
	MediaMetrics(ctx context.Context, mediaID string) (*meta.MediaMetrics, error)
}

// ReconcileResult summarizes one repair pass over unconfirmed posts.
type ReconcileResult struct {
	Checked        int      `json:"checked"`
	Matched        int      `json:"matched"`
	MatchedPostIDs []int64  `json:"matched_post_ids,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// LivenessResult summarizes one remote-deletion scan.
type LivenessResult struct {
	Checked  int      `json:"checked"`
	Deleted  int      `json:"deleted"`
	Restored int      `json:"restored"`
	Errors   []string `json:"errors,omitempty"`
}

type ReconcileService interface {
	// Reconcile matches locally unconfirmed posts against the account's
	// recent media and claims confirmed successes.
	Reconcile(ctx context.Context, limit int, maxAge time.Duration) (*ReconcileResult, error)
	// SyncLiveness flips ig_status for published posts whose remote media
	// vanished or reappeared.
	SyncLiveness(ctx context.Context, limit int) (*LivenessResult, error)
}

type reconcileService struct {
	posts     repository.PostRepository
	graph     RemoteMediaAPI
	pageLimit int
}

func NewReconcileService(posts repository.PostRepository, graph RemoteMediaAPI, pageLimit int) ReconcileService {
	return &reconcileService{posts: posts, graph: graph, pageLimit: pageLimit}
}

// carouselLike filters the recent-media page down to feed carousels, the
// only media this system publishes.
func carouselLike(m meta.MediaItem) bool {
	if m.MediaType == "CAROUSEL_ALBUM" {
		return true
	}
	return m.MediaProductType == "FEED"
}

func (s *reconcileService) Reconcile(ctx context.Context, limit int, maxAge time.Duration) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	candidates, err := s.posts.ListPendingForReconcile(ctx, limit, maxAge)
	if err != nil {
		return nil, fmt.Errorf("list reconcile candidates: %w", err)
	}
	result.Checked = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	media, err := s.graph.RecentMedia(ctx, s.pageLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch recent media: %w", err)
	}

	// Each remote media id may repair at most one local post. Without this
	// a duplicated caption would attach the same id twice and trip the
	// uniqueness constraint mid-batch.
	claimed := make(map[string]bool)

	for _, post := range candidates {
		wanted := meta.NormalizeCaption(post.Caption)
		if wanted == "" {
			continue
		}

		for _, m := range media {
			if claimed[m.ID] || !carouselLike(m) {
				continue
			}
			if meta.NormalizeCaption(m.Caption) != wanted {
				continue
			}
			ts := m.ParsedTimestamp()
			if ts != nil && ts.Before(post.CreatedAt.Add(-publishSkew)) {
				// Same caption but published before this post existed:
				// that is an older post, not ours.
				continue
			}

			// A media id already attached to some other local post is
			// off the table for this pass.
			if owner, err := s.posts.GetByMediaID(ctx, m.ID); err == nil && owner != nil && owner.ID != post.ID {
				claimed[m.ID] = true
				continue
			}

			err := s.posts.MarkPublished(ctx, post.ID, m.ID)
			switch {
			case errors.Is(err, repository.ErrMediaIDClaimed):
				claimed[m.ID] = true
				continue
			case err != nil:
				result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
			default:
				claimed[m.ID] = true
				result.Matched++
				result.MatchedPostIDs = append(result.MatchedPostIDs, post.ID)
				slog.Info("reconciled unconfirmed post", "post_id", post.ID, "media_id", m.ID)
			}
			break
		}
	}
	return result, nil
}

func (s *reconcileService) SyncLiveness(ctx context.Context, limit int) (*LivenessResult, error) {
	result := &LivenessResult{}

	posts, err := s.posts.ListForMetricsSync(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}

	for _, post := range posts {
		if post.IGMediaID == "" {
			continue
		}
		result.Checked++

		alive, reason, err := s.graph.MediaLiveness(ctx, post.IGMediaID)
		if err != nil {
			result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
			continue
		}

		switch {
		case !alive:
			if post.Status != models.PostStatusPublishedDeleted {
				slog.Warn("remote media deleted", "post_id", post.ID, "media_id", post.IGMediaID, "reason", reason)
			}
			if err := s.posts.MarkIGDeleted(ctx, post.ID, reason); err != nil {
				result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
				continue
			}
			result.Deleted++
		default:
			if post.Status == models.PostStatusPublishedDeleted {
				slog.Info("remote media reappeared", "post_id", post.ID, "media_id", post.IGMediaID)
				result.Restored++
			}
			if err := s.posts.MarkIGActive(ctx, post.ID); err != nil {
				result.Errors = appendBounded(result.Errors, fmt.Sprintf("post %d: %v", post.ID, err))
			}
		}
	}
	return result, nil
}

func appendBounded(errs []string, msg string) []string {
	if len(errs) >= maxCollectedErrors {
		return errs
	}
	return append(errs, msg)
}
