package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/diego-mascarenhas/stripe-sub000/app/controllers"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/middleware"
)

type ApiRouter struct {
}

// InstallRouter registers the operator API. Every route sits behind the
// bearer-token middleware.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.AdminTokenMiddleware())
	v1.Get("/subscriptions", controllers.HandleListSubscriptions)
	v1.Post("/subscriptions", controllers.HandleCreateSubscription)
	v1.Get("/subscriptions/:id", controllers.HandleGetSubscription)
	v1.Get("/subscriptions/:id/dunning", controllers.HandleInspectDunning)
	v1.Post("/subscriptions/:id/suspend", controllers.HandleForceSuspend)
	v1.Post("/subscriptions/:id/reactivate", controllers.HandleForceReactivate)
	v1.Get("/notifications", controllers.HandleListNotifications)
	v1.Post("/dunning/run", controllers.HandleRunDunning)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
