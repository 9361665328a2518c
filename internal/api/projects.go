package api

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/projects"
	"github.com/p-blackswan/project-hub/internal/steps"
)

const maxProjectList = 500

// UpdateProjectRequest is the PATCH body for a project. A null startDate
// unschedules the project.
type UpdateProjectRequest struct {
	InternalNotes *string         `json:"internalNotes"`
	StartDate     json.RawMessage `json:"startDate"`
}

// TransitionRequest optionally pins the index the caller last saw.
type TransitionRequest struct {
	ExpectedIndex *int `json:"expectedIndex"`
}

// CreateProject handles POST /api/v1/projects.
func (s *Server) CreateProject(c *fiber.Ctx) error {
	var req projects.NewProject
	if err := c.BodyParser(&req); err != nil {
		return perrors.NewValidationError("body", "invalid JSON")
	}
	p, err := s.deps.Projects.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// ListProjects handles GET /api/v1/projects?q=.
func (s *Server) ListProjects(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxProjectList {
		limit = maxProjectList
	}
	list, err := s.deps.Projects.Search(c.UserContext(), c.Query("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"projects": nonNil(list), "count": len(list)})
}

// GetProject handles GET /api/v1/projects/:id.
func (s *Server) GetProject(c *fiber.Ctx) error {
	p, err := s.deps.Projects.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// UpdateProject handles PATCH /api/v1/projects/:id.
func (s *Server) UpdateProject(c *fiber.Ctx) error {
	var req UpdateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return perrors.NewValidationError("body", "invalid JSON")
	}
	ctx, id := c.UserContext(), c.Params("id")

	unschedule := bytes.Equal(bytes.TrimSpace(req.StartDate), []byte("null"))
	update := models.ProjectUpdate{InternalNotes: req.InternalNotes}
	if len(req.StartDate) > 0 && !unschedule {
		start, err := parseStartDate(req.StartDate)
		if err != nil {
			return err
		}
		update.StartDate = &start
	}

	var (
		p   *models.Project
		err error
	)
	if update.InternalNotes != nil || update.StartDate != nil {
		if p, err = s.deps.Projects.Update(ctx, id, update); err != nil {
			return err
		}
	}
	if unschedule {
		if p, err = s.deps.Projects.ClearStartDate(ctx, id); err != nil {
			return err
		}
	}
	if p == nil {
		return perrors.NewValidationError("body", "nothing to update")
	}
	return c.JSON(p)
}

// parseStartDate accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date.
func parseStartDate(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, perrors.NewValidationError("startDate", "must be a date string")
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, perrors.NewValidationError("startDate", "must be YYYY-MM-DD or RFC 3339")
}

// Transition returns the handler for POST /api/v1/projects/:id/{advance,revert,complete}.
// A lost compare-and-swap is a 409; a failed notification still returns the
// moved project with notificationError set.
func (s *Server) Transition(kind steps.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req TransitionRequest
		if len(bytes.TrimSpace(c.Body())) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return perrors.NewValidationError("body", "invalid JSON")
			}
		}
		res, err := s.deps.Steps.Apply(c.UserContext(), kind, c.Params("id"), req.ExpectedIndex)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// ListTemplates handles GET /api/v1/templates.
func (s *Server) ListTemplates(c *fiber.Ctx) error {
	return c.JSON(s.deps.Templates)
}

// Calendar handles GET /api/v1/calendar?month=YYYY-MM.
func (s *Server) Calendar(c *fiber.Ctx) error {
	month := c.Query("month")
	list, err := s.deps.Projects.Calendar(c.UserContext(), month)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"month": month, "projects": nonNil(list)})
}

// Track handles GET /api/v1/track/:trackingLinkId, the customer view.
func (s *Server) Track(c *fiber.Ctx) error {
	view, err := s.deps.Projects.Track(c.UserContext(), c.Params("trackingLinkId"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// pathParam returns the unescaped route parameter.
func pathParam(c *fiber.Ctx, name string) string {
	raw := utils.CopyString(c.Params(name))
	if v, err := url.PathUnescape(raw); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(raw)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
