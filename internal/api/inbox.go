package api

import (
	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/inbox"
)

// SendMessageRequest is the body of an operator reply.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ListThreads handles GET /api/v1/inbox/threads.
func (s *Server) ListThreads(c *fiber.Ctx) error {
	f := inbox.Filters{
		Search: c.Query("q"),
		Source: c.Query("source"),
		Read:   c.Query("read"),
		Name:   c.Query("name"),
	}
	threads, err := s.deps.Inbox.ListThreads(c.UserContext(), sessionID(c), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"threads": nonNil(threads), "count": len(threads)})
}

// LoadMessages handles GET /api/v1/inbox/threads/:contact/messages.
func (s *Server) LoadMessages(c *fiber.Ctx) error {
	page, err := s.deps.Inbox.LoadMessages(c.UserContext(), sessionID(c), pathParam(c, "contact"), c.QueryInt("pageSize", 0))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// LoadOlderMessages handles GET /api/v1/inbox/threads/:contact/messages/older.
func (s *Server) LoadOlderMessages(c *fiber.Ctx) error {
	page, err := s.deps.Inbox.LoadOlderMessages(c.UserContext(), sessionID(c), pathParam(c, "contact"), c.QueryInt("pageSize", 0))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// SendInboxMessage handles POST /api/v1/inbox/threads/:contact/messages.
func (s *Server) SendInboxMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return perrors.NewValidationError("body", "invalid JSON")
	}
	res, err := s.deps.Inbox.SendMessage(c.UserContext(), pathParam(c, "contact"), req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HideThread handles POST /api/v1/inbox/threads/:contact/hide.
func (s *Server) HideThread(c *fiber.Ctx) error {
	if err := s.deps.Inbox.HideThread(sessionID(c), pathParam(c, "contact")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkThreadRead handles POST /api/v1/inbox/threads/:contact/read.
func (s *Server) MarkThreadRead(c *fiber.Ctx) error {
	n, err := s.deps.Inbox.MarkRead(c.UserContext(), pathParam(c, "contact"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": n})
}

// HiddenThreads handles GET /api/v1/inbox/hidden.
func (s *Server) HiddenThreads(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"hidden": nonNil(s.deps.Inbox.Prefs().Hidden(sessionID(c)))})
}

// ShowAllThreads handles DELETE /api/v1/inbox/hidden.
func (s *Server) ShowAllThreads(c *fiber.Ctx) error {
	s.deps.Inbox.ShowAllThreads(sessionID(c))
	return c.SendStatus(fiber.StatusNoContent)
}
