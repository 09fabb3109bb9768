package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/aimovie/api/internal/concurrency"
	"github.com/aimovie/api/internal/telemetry"
)

type ConcurrencyHandler struct {
	control *concurrency.Controller
	probe   telemetry.Probe
}

func NewConcurrencyHandler(control *concurrency.Controller, probe telemetry.Probe) *ConcurrencyHandler {
	return &ConcurrencyHandler{
		control: control,
		probe:   probe,
	}
}

// Get handles GET /config/concurrent-workers
// Returns the current settings, a telemetry snapshot and the worker count
// auto-adjustment would pick right now. Telemetry failure degrades to an
// error field instead of failing the request.
func (h *ConcurrencyHandler) Get(c *fiber.Ctx) error {
	cfg := h.control.Get()

	var systemInfo interface{}
	recommended := cfg.MaxParallelWorkers
	if h.probe != nil {
		info, err := h.probe.Snapshot(c.Context())
		if err != nil {
			systemInfo = fiber.Map{"error": err.Error()}
		} else {
			systemInfo = info
			recommended = concurrency.Recommended(info)
		}
	} else {
		systemInfo = fiber.Map{"error": "telemetry unavailable"}
	}

	return c.JSON(fiber.Map{
		"current_config": cfg,
		"system_info":    systemInfo,
		"recommendations": fiber.Map{
			"auto_adjusted_workers": recommended,
		},
	})
}

// Set handles POST /config/concurrent-workers
// Out-of-range values are rejected without touching the active settings.
func (h *ConcurrencyHandler) Set(c *fiber.Ctx) error {
	var update concurrency.Update
	if err := c.BodyParser(&update); err != nil {
		return configError(c, "invalid request body")
	}
	if update.Empty() {
		return configError(c, "workers is required")
	}

	cfg, err := h.control.Apply(update)
	if err != nil {
		var verr *concurrency.ValidationError
		if errors.As(err, &verr) {
			return configError(c, verr.Message)
		}
		return configError(c, err.Error())
	}

	return c.JSON(fiber.Map{
		"status":         "success",
		"current_config": cfg,
	})
}

func configError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}
