// Package requestid carries a per-request correlation id through context.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Header is the HTTP header the id is read from and echoed in.
const Header = "X-Request-ID"

// LocalsKey is the fiber Locals key holding the id.
const LocalsKey = "request_id"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// Middleware accepts an inbound X-Request-ID or mints one, then exposes it
// through Locals, the user context and the response header.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Locals(LocalsKey, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		c.Set(Header, id)
		return c.Next()
	}
}

// FromFiber returns the id assigned by Middleware.
func FromFiber(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsKey).(string)
	return id
}
