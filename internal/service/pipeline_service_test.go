package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
)

func testClassifier() *meta.Classifier {
	return meta.NewClassifier("1,2,4,17,32,613", "2207051,2207085")
}

type pipelineFixture struct {
	repo      *fakePostRepo
	graph     *fakeGraph
	generator *fakeGenerator
	publisher *fakePublisher
	svc       PipelineService
}

func newPipelineFixture() *pipelineFixture {
	repo := newFakePostRepo()
	graph := &fakeGraph{}
	generator := &fakeGenerator{
		topicDoc: models.Document{
			"topic":       "go generics deep dive",
			"source_urls": []any{"https://blog.example.com/generics"},
		},
	}
	publisher := &fakePublisher{mediaID: "17900001"}

	dedup := NewDedupService(repo, 90)
	rate := NewRateLimitService(repo, 24, 25)
	reconcile := NewReconcileService(repo, graph, 40)
	svc := NewPipelineService(repo, dedup, rate, reconcile, generator, publisher, fakeImages{}, testClassifier(), 72)

	return &pipelineFixture{repo: repo, graph: graph, generator: generator, publisher: publisher, svc: svc}
}

func TestRunLivePublishes(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.svc.Run(context.Background(), ModeLive, "", nil)
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, "17900001", result.MediaID)
	assert.Equal(t, "go generics deep dive", result.Topic)
	require.NotNil(t, result.PostID)

	post, _ := f.repo.GetByID(context.Background(), *result.PostID)
	assert.Equal(t, models.PostStatusPublishedActive, post.Status)
	assert.Equal(t, "17900001", post.IGMediaID)
	assert.Equal(t, 1, post.PublishAttempts)
}

func TestRunDryRunStoresWithoutPublishing(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.svc.Run(context.Background(), ModeDryRun, "", nil)
	require.NoError(t, err)

	assert.False(t, result.Published)
	assert.Zero(t, f.publisher.calls)
	require.NotNil(t, result.PostID)

	post, _ := f.repo.GetByID(context.Background(), *result.PostID)
	assert.Equal(t, models.PostStatusGenerated, post.Status)
}

func TestRunTestModeCreatesDraft(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.svc.Run(context.Background(), ModeTest, "", nil)
	require.NoError(t, err)

	post, _ := f.repo.GetByID(context.Background(), *result.PostID)
	assert.Equal(t, models.PostStatusDraft, post.Status)
}

func TestRunLiveAbortsOnDuplicate(t *testing.T) {
	f := newPipelineFixture()
	f.repo.addPublishedSource("https://blog.example.com/generics", "go generics deep dive")

	result, err := f.svc.Run(context.Background(), ModeLive, "", nil)
	require.Error(t, err)

	assert.NotNil(t, result.Duplicate)
	assert.Nil(t, result.PostID, "no post may be stored for a duplicate in live mode")
	assert.Zero(t, f.publisher.calls)
}

func TestRunDryRunWarnsOnDuplicate(t *testing.T) {
	f := newPipelineFixture()
	f.repo.addPublishedSource("https://blog.example.com/generics", "go generics deep dive")

	result, err := f.svc.Run(context.Background(), ModeDryRun, "", nil)
	require.NoError(t, err)

	assert.NotNil(t, result.Duplicate)
	assert.NotNil(t, result.PostID)
}

func TestRunBlocksWhenRateExhausted(t *testing.T) {
	f := newPipelineFixture()
	now := time.Now()
	for i := 0; i < 25; i++ {
		f.repo.attemptTimes = append(f.repo.attemptTimes, now.Add(-time.Duration(i)*time.Minute))
	}

	result, err := f.svc.Run(context.Background(), ModeLive, "", nil)
	require.Error(t, err)

	// The publish call was never made and no attempt was burned.
	assert.Zero(t, f.publisher.calls)
	assert.Empty(t, f.repo.attempts)
	require.NotNil(t, result.PostID)
	assert.Equal(t, meta.TagRateLimit, f.repo.errored[*result.PostID])
}

func TestRunRecordsClassifiedFailure(t *testing.T) {
	f := newPipelineFixture()
	f.publisher.err = &meta.GraphError{StatusCode: 401, Code: 190, Message: "Error validating access token"}

	result, err := f.svc.Run(context.Background(), ModeLive, "", nil)
	require.Error(t, err)
	require.NotNil(t, result.PostID)

	assert.Equal(t, meta.TagAuth, f.repo.errored[*result.PostID])
	post, _ := f.repo.GetByID(context.Background(), *result.PostID)
	assert.Equal(t, models.PostStatusPublishError, post.Status)
	assert.Equal(t, 1, post.PublishAttempts, "the attempt still counts against the ledger")
}

func TestRunAmbiguousFailureResolvedByReconcile(t *testing.T) {
	f := newPipelineFixture()
	f.publisher.err = &meta.GraphError{StatusCode: 400, Code: 4, Message: "Application request limit reached"}
	// Instagram actually accepted the publish: the caption shows up in
	// recent media despite the failed response.
	f.graph.media = []meta.MediaItem{
		{ID: "17900077", Caption: "the final caption #go", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now())},
	}

	result, err := f.svc.Run(context.Background(), ModeLive, "", nil)
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, "17900077", result.MediaID)
	post, _ := f.repo.GetByID(context.Background(), *result.PostID)
	assert.Equal(t, models.PostStatusPublishedActive, post.Status)
	assert.Empty(t, f.repo.errored[post.ID])
}

func TestRetryPublishSucceeds(t *testing.T) {
	f := newPipelineFixture()
	failed := &models.Post{
		ID:             55,
		Topic:          "retry me",
		Caption:        "retry caption",
		Status:         models.PostStatusPublishError,
		ContentPayload: models.Document{"caption": "retry caption"},
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	f.repo.posts[55] = failed

	result, err := f.svc.RetryPublish(context.Background(), 55)
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, "17900001", result.MediaID)
	assert.Equal(t, 1, f.publisher.calls)
}

func TestRetryPublishResolvedByReconcileSkipsPublish(t *testing.T) {
	f := newPipelineFixture()
	failed := &models.Post{
		ID:             56,
		Topic:          "already out there",
		Caption:        "already out there",
		Status:         models.PostStatusPublishError,
		ContentPayload: models.Document{"caption": "already out there"},
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	f.repo.posts[56] = failed
	f.graph.media = []meta.MediaItem{
		{ID: "17900088", Caption: "already out there", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now())},
	}

	result, err := f.svc.RetryPublish(context.Background(), 56)
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, "17900088", result.MediaID)
	assert.Zero(t, f.publisher.calls, "no second publish call when reconciliation repaired the post")
}

func TestRetryPublishUsesCurrentPostState(t *testing.T) {
	f := newPipelineFixture()
	failed := &models.Post{
		ID:             59,
		Topic:          "edited since failing",
		Caption:        "stale caption",
		Status:         models.PostStatusPublishError,
		ContentPayload: models.Document{"caption": "stale caption"},
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	f.repo.posts[59] = failed

	// Another writer updates the row between the initial read and the
	// post-reconcile re-read; the publish must use the current state.
	reads := 0
	f.repo.afterGetByID = func(id int64) {
		reads++
		if reads == 1 {
			failed.Caption = "current caption"
			failed.ContentPayload = models.Document{"caption": "current caption"}
		}
	}

	result, err := f.svc.RetryPublish(context.Background(), 59)
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, "current caption", f.publisher.lastCaption)
}

func TestRetryPublishRejectsNonRetryable(t *testing.T) {
	f := newPipelineFixture()
	f.repo.posts[57] = &models.Post{ID: 57, Status: models.PostStatusPublishedActive, IGMediaID: "1"}

	_, err := f.svc.RetryPublish(context.Background(), 57)
	assert.Error(t, err)
}

func TestRetryPublishRequiresContentPayload(t *testing.T) {
	f := newPipelineFixture()
	f.repo.posts[58] = &models.Post{ID: 58, Status: models.PostStatusPublishError, Caption: "c"}

	_, err := f.svc.RetryPublish(context.Background(), 58)
	assert.Error(t, err)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	f := newPipelineFixture()
	_, err := f.svc.Run(context.Background(), "yolo", "", nil)
	assert.Error(t, err)
}
