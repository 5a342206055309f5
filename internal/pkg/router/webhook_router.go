package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/diego-mascarenhas/stripe-sub000/app/controllers"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
)

type WebhookRouter struct {
}

// InstallRouter registers the provider webhook endpoints. The limiter state
// lives in Redis so the limit holds across instances; providers retry on 429.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))

	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
	webhooks.Post("/mercadopago", controllers.HandleMercadoPagoWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

// newLimiterStorage builds a Redis-backed fiber storage from the cache client
// configuration, on a separate database so limiter keys never collide with
// cache entries.
func newLimiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
