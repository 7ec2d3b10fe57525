package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/dvalenciano/igflow/internal/scheduler"
	"github.com/dvalenciano/igflow/internal/service"
	"github.com/dvalenciano/igflow/internal/transfer"
)

type PipelineHandler struct {
	pipeline service.PipelineService
	posts    service.PostService
	sync     service.MetricsService
	guard    *scheduler.RunGuard
}

func NewPipelineHandler(pipeline service.PipelineService, posts service.PostService, sync service.MetricsService, guard *scheduler.RunGuard) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, posts: posts, sync: sync, guard: guard}
}

// Run triggers a manual pipeline run. The run guard serializes it against
// the scheduler daemon and other manual triggers.
func (h *PipelineHandler) Run(c *fiber.Ctx) error {
	var req transfer.RunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Mode == "" {
		req.Mode = service.ModeDryRun
	}
	if req.Mode != service.ModeTest && req.Mode != service.ModeDryRun && req.Mode != service.ModeLive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "mode must be test, dry-run, or live",
		})
	}

	runID, ok := h.guard.TryAcquire("manual:" + req.Mode)
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": service.ErrRunInProgress.Error(),
			"guard": h.guard.Snapshot(),
		})
	}
	defer h.guard.Release(runID)

	result, err := h.pipeline.Run(c.Context(), req.Mode, req.Topic, req.Template)
	if err != nil {
		slog.Error("manual run failed", "mode", req.Mode, "error", err.Error())
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// DBStatus reports the backing database with credentials masked.
func (h *PipelineHandler) DBStatus(c *fiber.Ctx) error {
	storage, err := h.posts.Storage(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to read storage status",
		})
	}
	return c.Status(fiber.StatusOK).JSON(storage)
}

// Status reports system health and opportunistically kicks the periodic
// remote-state sync.
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	sync, err := h.sync.AutoSync(c.Context())
	if err != nil {
		slog.Error("auto sync failed", "error", err.Error())
	}

	storage, err := h.posts.Storage(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to read storage status",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"storage": storage,
		"guard":   h.guard.Snapshot(),
		"sync":    sync,
	})
}
