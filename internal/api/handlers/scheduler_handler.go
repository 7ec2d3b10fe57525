package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
	"github.com/dvalenciano/igflow/internal/scheduler"
	"github.com/dvalenciano/igflow/internal/service"
	"github.com/dvalenciano/igflow/internal/transfer"
)

type SchedulerHandler struct {
	s     service.SchedulerService
	guard *scheduler.RunGuard
}

func NewSchedulerHandler(s service.SchedulerService, guard *scheduler.RunGuard) *SchedulerHandler {
	return &SchedulerHandler{s: s, guard: guard}
}

func (h *SchedulerHandler) GetState(c *fiber.Ctx) error {
	days := c.QueryInt("days", 14)

	state, err := h.s.State(c.Context(), days)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to load scheduler state",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"state": state,
		"guard": h.guard.Snapshot(),
	})
}

func (h *SchedulerHandler) SaveConfig(c *fiber.Ctx) error {
	var req transfer.ConfigSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	cfg := &models.SchedulerConfig{Enabled: req.Enabled, Schedule: req.Schedule}
	if err := h.s.SaveConfig(c.Context(), cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *SchedulerHandler) AddQueueItem(c *fiber.Ctx) error {
	var req transfer.QueueAddRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	id, err := h.s.AddQueueItem(c.Context(), req.ToQueueItem())
	if errors.Is(err, repository.ErrDuplicateDate) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "that date is already scheduled",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *SchedulerHandler) RemoveQueueItem(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid queue id",
		})
	}

	if err := h.s.RemoveQueueItem(c.Context(), int64(id)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *SchedulerHandler) AutoFill(c *fiber.Ctx) error {
	var req transfer.AutoFillRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	created, err := h.s.AutoFill(c.Context(), req.Days)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"created": created,
		"count":   len(created),
	})
}
