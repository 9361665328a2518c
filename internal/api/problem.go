package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
)

// ProblemDetail represents an RFC 7807 problem response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// errorResponse maps a domain error onto its HTTP problem response.
func errorResponse(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return problemResponse(c, fe.Code, "request_error", utils.StatusMessage(fe.Code), fe.Message)
	}

	status, title := statusFor(err)
	p := ProblemDetail{
		Type:     perrors.Kind(err),
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Path(),
	}
	var ve *perrors.ValidationError
	if errors.As(err, &ve) {
		p.Field = ve.Field
	}
	if status == fiber.StatusInternalServerError {
		p.Detail = "An internal error occurred"
	}
	return c.Status(status).JSON(p)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, perrors.ErrValidation):
		return fiber.StatusBadRequest, "Bad Request"
	case errors.Is(err, perrors.ErrNotFound):
		return fiber.StatusNotFound, "Not Found"
	case errors.Is(err, perrors.ErrConflict):
		return fiber.StatusConflict, "Conflict"
	case errors.Is(err, perrors.ErrChannel):
		return fiber.StatusBadGateway, "Provider Error"
	case errors.Is(err, perrors.ErrUnavailable), errors.Is(err, perrors.ErrTimeout):
		return fiber.StatusServiceUnavailable, "Service Unavailable"
	default:
		return fiber.StatusInternalServerError, "Internal Server Error"
	}
}
