package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/diego-mascarenhas/stripe-sub000/app/controllers"
)

type PublicRouter struct {
}

// InstallRouter registers the unauthenticated routes: health probe and the
// mail open-tracking pixel.
func (h PublicRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/t/:token", controllers.HandleTrackingPixel)
}

func NewPublicRouter() *PublicRouter {
	return &PublicRouter{}
}
