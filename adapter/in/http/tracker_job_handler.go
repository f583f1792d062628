package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"tracker_server/core/port/in"
	"tracker_server/infra/middleware"
	"tracker_server/pkg/apperr"
	"tracker_server/pkg/response"
)

// JobHandler serves the user's tracked applications.
type JobHandler struct {
	tracking    in.TrackingService
	scanLimiter fiber.Handler
}

// NewJobHandler wires the routes. scanLimiter, when non-nil, guards the
// Gmail-backed scan endpoint.
func NewJobHandler(tracking in.TrackingService, scanLimiter fiber.Handler) *JobHandler {
	return &JobHandler{tracking: tracking, scanLimiter: scanLimiter}
}

func (h *JobHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	if h.scanLimiter != nil {
		jobs.Get("/scan", h.scanLimiter, h.Scan)
	} else {
		jobs.Get("/scan", h.Scan)
	}
	jobs.Get("/logs", h.Logs)
	jobs.Get("/", h.List)
	jobs.Get("/:id", h.Get)
	jobs.Post("/:id/auto-reply", h.RetryAutoReply)

	router.Get("/emails/:id", h.GetEmail)
}

func (h *JobHandler) Scan(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	results, err := h.tracking.ScanJobs(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.List(c, results)
}

func (h *JobHandler) List(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	apps, err := h.tracking.ListApplications(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.List(c, apps)
}

func (h *JobHandler) Logs(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	logs, err := h.tracking.RecentLogs(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.List(c, logs)
}

func (h *JobHandler) Get(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	app, err := h.tracking.GetApplication(c.UserContext(), userID, paramID(c))
	if err != nil {
		return err
	}
	return response.OK(c, app)
}

func (h *JobHandler) RetryAutoReply(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	id := paramID(c)
	if err := h.tracking.RetryAutoReply(c.UserContext(), userID, id); err != nil {
		return err
	}
	return response.Accepted(c, fiber.Map{"application_id": id})
}

func (h *JobHandler) GetEmail(c *fiber.Ctx) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	email, err := h.tracking.GetEmail(c.UserContext(), userID, paramID(c))
	if err != nil {
		return err
	}
	return response.OK(c, email)
}

// paramID copies the :id param. Fiber reuses the request buffer once the
// handler returns, and the id may outlive it in queued work.
func paramID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func requireUser(c *fiber.Ctx) (string, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return "", apperr.Unauthorized("")
	}
	return userID, nil
}
