package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/storytailor/storytailor/pipeline"
)

type narrationRequest struct {
	Voice string `json:"voice"`
}

type imagesRequest struct {
	Style string `json:"style"`
}

// parseOptional decodes the body when one was sent; the step endpoints accept an empty POST.
func parseOptional(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	return nil
}

func (h *Handler) CreateStory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	var in pipeline.StoryInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	story, err := h.Pipeline.CreateStory(c.UserContext(), uid, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(story)
}

func (h *Handler) ListStories(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	stories, err := h.Pipeline.ListStories(c.UserContext(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stories)
}

func (h *Handler) GetStory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	story, err := h.Pipeline.GetStory(c.UserContext(), uid, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(story)
}

func (h *Handler) DeleteStory(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Pipeline.DeleteStory(c.UserContext(), uid, id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GenerateScript(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	story, err := h.Pipeline.GenerateScript(c.UserContext(), uid, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(story)
}

func (h *Handler) GenerateNarration(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req narrationRequest
	if err := parseOptional(c, &req); err != nil {
		return writeError(c, err)
	}
	story, err := h.Pipeline.GenerateNarration(c.UserContext(), uid, id, req.Voice)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(story)
}

func (h *Handler) GenerateImages(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := storyID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req imagesRequest
	if err := parseOptional(c, &req); err != nil {
		return writeError(c, err)
	}
	story, err := h.Pipeline.GenerateImages(c.UserContext(), uid, id, req.Style)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(story)
}
