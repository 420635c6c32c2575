package pipeline

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Serve runs the status HTTP surface: liveness, counters and a manual
// sweep trigger for the supervisor. Blocks until the listener stops.
func (p *Pipeline) Serve(addr string) error {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sweeping": p.Running()})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(p.metrics.Snapshot())
	})

	app.Post("/sweep", func(c *fiber.Ctx) error {
		if p.Running() {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a sweep is already in progress"})
		}
		go func() {
			if _, err := p.Run(context.Background()); err != nil {
				p.logger.Error().Err(err).Msg("manually triggered sweep failed")
			}
		}()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sweep started"})
	})

	return app.Listen(addr)
}
