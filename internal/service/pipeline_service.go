package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dvalenciano/igflow/internal/imagehost"
	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// Run modes. Test stops after generation, dry-run additionally stores the
// post, live publishes to Instagram.
const (
	ModeTest   = "test"
	ModeDryRun = "dry-run"
	ModeLive   = "live"
)

// Generator is the content-generation collaborator: research a topic,
// produce the content and strategy documents, render slide images.
type Generator interface {
	Research(ctx context.Context, topic string) (models.Document, error)
	GenerateContent(ctx context.Context, topicDoc models.Document, template *int) (models.Document, error)
	BuildStrategy(ctx context.Context, contentDoc models.Document) (models.Document, error)
	RenderSlides(ctx context.Context, contentDoc models.Document, template *int) ([]string, error)
}

// CarouselPublisher is the slice of the Graph client the pipeline needs.
type CarouselPublisher interface {
	PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, error)
}

// RunResult reports one pipeline execution.
type RunResult struct {
	Mode      string         `json:"mode"`
	PostID    *int64         `json:"post_id,omitempty"`
	MediaID   string         `json:"media_id,omitempty"`
	Topic     string         `json:"topic"`
	Duplicate *DuplicateInfo `json:"duplicate,omitempty"`
	Published bool           `json:"published"`
}

// ErrRunInProgress is returned when a caller must not start a second
// pipeline run; callers map it to HTTP 409.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

type PipelineService interface {
	Run(ctx context.Context, mode, topic string, template *int) (*RunResult, error)
	RunScheduled(ctx context.Context, topic string, template *int) (*int64, error)
	RetryPublish(ctx context.Context, postID int64) (*RunResult, error)
}

type pipelineService struct {
	posts      repository.PostRepository
	dedup      DedupService
	rate       RateLimitService
	reconcile  ReconcileService
	generator  Generator
	publisher  CarouselPublisher
	images     imagehost.Host
	classifier *meta.Classifier

	reconcileLookback time.Duration
	reconcileLimit    int
}

func NewPipelineService(
	posts repository.PostRepository,
	dedup DedupService,
	rate RateLimitService,
	reconcile ReconcileService,
	generator Generator,
	publisher CarouselPublisher,
	images imagehost.Host,
	classifier *meta.Classifier,
	reconcileLookbackHours int,
) PipelineService {
	return &pipelineService{
		posts:             posts,
		dedup:             dedup,
		rate:              rate,
		reconcile:         reconcile,
		generator:         generator,
		publisher:         publisher,
		images:            images,
		classifier:        classifier,
		reconcileLookback: time.Duration(reconcileLookbackHours) * time.Hour,
		reconcileLimit:    60,
	}
}

func (s *pipelineService) RunScheduled(ctx context.Context, topic string, template *int) (*int64, error) {
	result, err := s.Run(ctx, ModeLive, topic, template)
	if result != nil && result.PostID != nil {
		// The post id is reported even on failure so the queue item can
		// reference the errored post.
		return result.PostID, err
	}
	return nil, err
}

func (s *pipelineService) Run(ctx context.Context, mode, topic string, template *int) (*RunResult, error) {
	if mode != ModeTest && mode != ModeDryRun && mode != ModeLive {
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
	result := &RunResult{Mode: mode}

	topicDoc, err := s.generator.Research(ctx, topic)
	if err != nil {
		return result, fmt.Errorf("topic research: %w", err)
	}
	if t := topicDoc.TopicText(); t != "" {
		topic = t
	}
	result.Topic = topic
	sourceURLs := topicDoc.SourceURLs()

	dup, err := s.dedup.FindDuplicate(ctx, topic, sourceURLs)
	if err != nil {
		return result, err
	}
	if dup != nil {
		result.Duplicate = dup
		if mode == ModeLive {
			return result, fmt.Errorf("topic already covered by post %d (%s match)", dup.PostID, dup.Reason)
		}
		slog.Warn("continuing despite duplicate", "mode", mode, "existing_post_id", dup.PostID, "reason", dup.Reason)
	}

	contentDoc, err := s.generator.GenerateContent(ctx, topicDoc, template)
	if err != nil {
		return result, fmt.Errorf("content generation: %w", err)
	}
	strategyDoc, err := s.generator.BuildStrategy(ctx, contentDoc)
	if err != nil {
		return result, fmt.Errorf("strategy generation: %w", err)
	}

	status := models.PostStatusGenerated
	if mode == ModeTest {
		status = models.PostStatusDraft
	}
	post := &models.Post{
		Topic:           topic,
		Caption:         models.FullCaption(strategyDoc, contentDoc),
		Status:          status,
		IGStatus:        models.IGStatusUnknown,
		TopicPayload:    topicDoc,
		ContentPayload:  contentDoc,
		StrategyPayload: strategyDoc,
	}
	if score, ok := topicDoc.ViralityScore(); ok {
		post.ViralityScore = &score
	}

	postID, err := s.posts.Create(ctx, post, sourceURLs)
	if err != nil {
		return result, fmt.Errorf("store post: %w", err)
	}
	post.ID = postID
	result.PostID = &postID
	slog.Info("post stored", "post_id", postID, "mode", mode, "topic", topic)

	if mode != ModeLive {
		return result, nil
	}

	mediaID, err := s.publishPost(ctx, post, template)
	if err != nil {
		return result, err
	}
	result.MediaID = mediaID
	result.Published = true
	return result, nil
}

// RetryPublish re-runs the publish half of the pipeline for an existing
// retryable post, reconciling first in case a previous ambiguous failure
// actually went through.
func (s *pipelineService) RetryPublish(ctx context.Context, postID int64) (*RunResult, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, repository.ErrNotFound
	}

	result := &RunResult{Mode: ModeLive, PostID: &post.ID, Topic: post.Topic}

	if !post.Status.Retryable() {
		return result, fmt.Errorf("post %d is %s, not retryable", postID, post.Status)
	}

	// An earlier attempt may have succeeded remotely without us seeing the
	// acknowledgement. Check before spending another publish call.
	if _, err := s.reconcile.Reconcile(ctx, s.reconcileLimit, s.reconcileLookback); err != nil {
		slog.Warn("pre-retry reconcile failed", "error", err.Error())
	}
	refreshed, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return result, err
	}
	if refreshed == nil {
		return result, repository.ErrNotFound
	}
	if refreshed.Status.Published() {
		slog.Info("retry resolved by reconciliation", "post_id", postID, "media_id", refreshed.IGMediaID)
		result.MediaID = refreshed.IGMediaID
		result.Published = true
		return result, nil
	}

	if len(refreshed.ContentPayload) == 0 {
		return result, fmt.Errorf("post %d has no stored content payload; a full regeneration is required", postID)
	}

	mediaID, err := s.publishPost(ctx, refreshed, nil)
	if err != nil {
		return result, err
	}
	result.MediaID = mediaID
	result.Published = true
	return result, nil
}

// publishPost renders, uploads, and publishes one post, then records the
// outcome. All failures land on the post row via the error taxonomy.
func (s *pipelineService) publishPost(ctx context.Context, post *models.Post, template *int) (string, error) {
	rate, err := s.rate.Status(ctx)
	if err != nil {
		return "", err
	}
	if rate.Exhausted() {
		// No attempt is burned: the call was never made, so the ledger
		// must not count it.
		msg := fmt.Sprintf("publish limit of %d per %dh reached; next slot in ~%d min", rate.Limit, rate.WindowHours, rate.NextSlotInMinutes)
		if err := s.posts.MarkPublishError(ctx, post.ID, meta.TagRateLimit, "", msg); err != nil {
			slog.Error("record rate-limit block failed", "post_id", post.ID, "error", err.Error())
		}
		return "", errors.New(msg)
	}

	slidePaths, err := s.generator.RenderSlides(ctx, post.ContentPayload, template)
	if err != nil {
		return "", s.recordFailure(ctx, post, fmt.Errorf("render slides: %w", err))
	}
	imageURLs, err := s.images.ResolveAll(ctx, slidePaths)
	if err != nil {
		return "", s.recordFailure(ctx, post, fmt.Errorf("resolve slide urls: %w", err))
	}

	caption := post.Caption
	if caption == "" {
		caption = models.FullCaption(post.StrategyPayload, post.ContentPayload)
	}

	if err := s.posts.MarkPublishAttempt(ctx, post.ID); err != nil {
		return "", err
	}

	mediaID, err := s.publisher.PublishCarousel(ctx, imageURLs, caption)
	if err != nil {
		if recovered, mid := s.resolveAmbiguous(ctx, post, err); recovered {
			return mid, nil
		}
		return "", s.recordFailure(ctx, post, err)
	}

	if err := s.posts.MarkPublished(ctx, post.ID, mediaID); err != nil {
		if errors.Is(err, repository.ErrMediaIDClaimed) {
			claimErr := fmt.Errorf("media id %s already belongs to another post: %w", mediaID, err)
			return "", s.recordFailure(ctx, post, claimErr)
		}
		return "", err
	}

	slog.Info("post published", "post_id", post.ID, "media_id", mediaID)
	return mediaID, nil
}

// resolveAmbiguous handles publish failures that may hide a remote success:
// a rate-limited or timed-out media_publish call can still have landed. One
// reconcile pass against recent media settles it.
func (s *pipelineService) resolveAmbiguous(ctx context.Context, post *models.Post, publishErr error) (bool, string) {
	if !s.classifier.Ambiguous(publishErr) {
		return false, ""
	}
	slog.Warn("ambiguous publish failure, reconciling before recording",
		"post_id", post.ID, "error", publishErr.Error())

	if _, err := s.reconcile.Reconcile(ctx, s.reconcileLimit, s.reconcileLookback); err != nil {
		slog.Error("ambiguity reconcile failed", "post_id", post.ID, "error", err.Error())
		return false, ""
	}

	refreshed, err := s.posts.GetByID(ctx, post.ID)
	if err != nil || refreshed == nil {
		return false, ""
	}
	if refreshed.Status.Published() {
		slog.Info("ambiguous failure was actually a success", "post_id", post.ID, "media_id", refreshed.IGMediaID)
		return true, refreshed.IGMediaID
	}
	return false, ""
}

// recordFailure persists the classified failure on the post and returns an
// error carrying the taxonomy tag for the caller.
func (s *pipelineService) recordFailure(ctx context.Context, post *models.Post, cause error) error {
	cl := s.classifier.Classify(cause)
	if err := s.posts.MarkPublishError(ctx, post.ID, cl.Tag, cl.Code, cause.Error()); err != nil {
		slog.Error("record publish error failed", "post_id", post.ID, "error", err.Error())
	}
	slog.Error("publish failed", "post_id", post.ID, "tag", cl.Tag, "code", cl.Code, "error", cause.Error())
	return fmt.Errorf("%s: %w", cl.Tag, cause)
}
