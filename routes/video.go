package routes

import (
	"github.com/gofiber/fiber/v2"
)

// CreateVideoJob queues a render and returns immediately; clients poll the job.
func (h *Handler) CreateVideoJob(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	job, err := h.Jobs.Create(c.UserContext(), uid, id)
	if err != nil {
		return writeError(c, err)
	}
	c.Location("/api/video-jobs/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (h *Handler) ListVideoJobs(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := h.Pipeline.GetStory(c.UserContext(), uid, id); err != nil {
		return writeError(c, err)
	}
	list, err := h.Jobs.ListForStory(c.UserContext(), uid, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

func (h *Handler) GetVideoJob(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	job, err := h.Jobs.Get(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

func (h *Handler) CancelVideoJob(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	job, err := h.Jobs.Cancel(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}
