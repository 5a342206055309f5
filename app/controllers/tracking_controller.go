package controllers

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/database"
)

// trackingPixelBase64 is a 1x1 transparent GIF.
const trackingPixelBase64 = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// HandleTrackingPixel serves the mail open-tracking pixel. The pixel is
// always returned, token known or not, so the endpoint leaks nothing about
// ledger contents.
func HandleTrackingPixel(c *fiber.Ctx) error {
	token := strings.TrimSuffix(c.Params("token"), ".png")

	if token != "" {
		db := database.GetDB()
		var n models.SubscriptionNotification
		err := db.Where("track_token = ?", token).First(&n).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to the pixel
		case err != nil:
			log.Errorf("[Tracking] token lookup failed: %v", err)
		default:
			if err := n.RecordOpen(db, time.Now()); err != nil {
				log.Errorf("[Tracking] record open for notification %d: %v", n.ID, err)
			}
		}
	}

	pixel, _ := base64.StdEncoding.DecodeString(trackingPixelBase64)
	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Send(pixel)
}
