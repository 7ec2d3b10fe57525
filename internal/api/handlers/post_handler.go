package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/dvalenciano/igflow/internal/repository"
	"github.com/dvalenciano/igflow/internal/scheduler"
	"github.com/dvalenciano/igflow/internal/service"
)

type PostHandler struct {
	posts    service.PostService
	pipeline service.PipelineService
	rate     service.RateLimitService
	sync     service.MetricsService
	guard    *scheduler.RunGuard
}

func NewPostHandler(posts service.PostService, pipeline service.PipelineService, rate service.RateLimitService, sync service.MetricsService, guard *scheduler.RunGuard) *PostHandler {
	return &PostHandler{posts: posts, pipeline: pipeline, rate: rate, sync: sync, guard: guard}
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	posts, err := h.posts.List(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to list posts",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"posts": posts})
}

// ListRetryable surfaces the errored posts an operator can retry.
func (h *PostHandler) ListRetryable(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	posts, err := h.posts.ListRetryable(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to list retryable posts",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"posts": posts})
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid post id",
		})
	}

	post, err := h.posts.Get(c.Context(), int64(id))
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "post not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to load post",
		})
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

// RetryPublish fires a publish retry for an errored post. The run guard
// serializes it against the scheduler daemon and manual pipeline triggers;
// conflicting runs and claimed media ids map to 409.
func (h *PostHandler) RetryPublish(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid post id",
		})
	}

	runID, ok := h.guard.TryAcquire(fmt.Sprintf("retry:%d", id))
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": service.ErrRunInProgress.Error(),
			"guard": h.guard.Snapshot(),
		})
	}
	defer h.guard.Release(runID)

	result, err := h.pipeline.RetryPublish(c.Context(), int64(id))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "post not found",
		})
	case errors.Is(err, repository.ErrMediaIDClaimed), errors.Is(err, service.ErrRunInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *PostHandler) RateStatus(c *fiber.Ctx) error {
	status, err := h.rate.Status(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to compute rate status",
		})
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

// SyncRemote forces a reconciliation + liveness + metrics pass.
func (h *PostHandler) SyncRemote(c *fiber.Ctx) error {
	result, err := h.sync.ForceSync(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
