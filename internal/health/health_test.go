package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusOK })
	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusDown })
	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusDegraded })
	assert.True(t, c.IsReady(context.Background()))
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(pingerFunc(func(ctx context.Context) error { return nil }))
	down := PingCheck(pingerFunc(func(ctx context.Context) error { return errors.New("closed") }))
	assert.Equal(t, StatusOK, ok(context.Background()))
	assert.Equal(t, StatusDown, down(context.Background()))
}

func TestHandlers(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	healthy := true
	c.Register("store", func(ctx context.Context) Status {
		if healthy {
			return StatusOK
		}
		return StatusDown
	})

	app := fiber.New()
	app.Get("/healthz", Liveness)
	app.Get("/readyz", c.Readiness())

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	healthy = false
	resp, err = app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "not_ready")
}
