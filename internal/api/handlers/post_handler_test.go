package handlers

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvalenciano/igflow/internal/scheduler"
	"github.com/dvalenciano/igflow/internal/service"
)

// fakeRetryPipeline blocks inside RetryPublish until released, counting how
// many callers are inside at once.
type fakeRetryPipeline struct {
	entered chan struct{}
	release chan struct{}
	inside  atomic.Int32
	maxSeen atomic.Int32
}

func newFakeRetryPipeline() *fakeRetryPipeline {
	return &fakeRetryPipeline{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (f *fakeRetryPipeline) Run(ctx context.Context, mode, topic string, template *int) (*service.RunResult, error) {
	return &service.RunResult{Mode: mode}, nil
}

func (f *fakeRetryPipeline) RunScheduled(ctx context.Context, topic string, template *int) (*int64, error) {
	return nil, nil
}

func (f *fakeRetryPipeline) RetryPublish(ctx context.Context, postID int64) (*service.RunResult, error) {
	n := f.inside.Add(1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	f.entered <- struct{}{}
	<-f.release
	f.inside.Add(-1)
	return &service.RunResult{Mode: service.ModeLive, PostID: &postID, MediaID: "42", Published: true}, nil
}

func retryApp(pipeline service.PipelineService, guard *scheduler.RunGuard) *fiber.App {
	h := NewPostHandler(nil, pipeline, nil, nil, guard)
	app := fiber.New()
	app.Post("/api/posts/:id/retry-publish", h.RetryPublish)
	return app
}

func TestRetryPublishConflictsWhileGuardHeld(t *testing.T) {
	guard := scheduler.NewRunGuard()
	pipeline := newFakeRetryPipeline()
	app := retryApp(pipeline, guard)

	runID, ok := guard.TryAcquire("scheduled:2026-08-29")
	require.True(t, ok)
	defer guard.Release(runID)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/posts/7/retry-publish", nil), -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Zero(t, pipeline.maxSeen.Load(), "pipeline must not run while the guard is held")
}

func TestRetryPublishSerializesConcurrentTriggers(t *testing.T) {
	guard := scheduler.NewRunGuard()
	pipeline := newFakeRetryPipeline()
	app := retryApp(pipeline, guard)

	firstDone := make(chan int, 1)
	go func() {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/posts/7/retry-publish", nil), -1)
		if err != nil {
			firstDone <- 0
			return
		}
		firstDone <- resp.StatusCode
	}()

	// Wait until the first retry is inside the publish flow, then fire a
	// second one against the held guard.
	<-pipeline.entered
	resp, err := app.Test(httptest.NewRequest("POST", "/api/posts/7/retry-publish", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	close(pipeline.release)
	assert.Equal(t, fiber.StatusOK, <-firstDone)
	assert.Equal(t, int32(1), pipeline.maxSeen.Load(), "publishes must be single-flight")

	// The guard frees up once the retry finishes.
	assert.False(t, guard.Snapshot().Busy)
}
