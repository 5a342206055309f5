package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const paymentStatusApproved = "approved"

// SyncPayments pulls recent MercadoPago payments and routes approved ones
// through the same settlement path the webhook ingress uses, so a payment
// that clears an invoice also triggers the reactivation check.
func (s *Syncer) SyncPayments(ctx context.Context, since time.Time) (Stats, error) {
	var stats Stats
	if s.payments == nil || s.applier == nil {
		return stats, nil
	}

	err := s.payments.SearchPayments(ctx, since, func(p gateway.PaymentPayload) error {
		if p.Status != paymentStatusApproved || p.ExternalReference == "" {
			stats.Skipped++
			return nil
		}
		var inv models.Invoice
		if err := s.db.Where("stripe_id = ?", p.ExternalReference).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[Sync] payment %s references unknown invoice %s", p.ID, p.ExternalReference)
				stats.Skipped++
				return nil
			}
			stats.Errors++
			log.Errorf("[Sync] payment %s: %v", p.ID, err)
			return nil
		}
		if inv.Paid {
			stats.Skipped++
			return nil
		}
		if err := s.applier.PaymentSucceeded(ctx, inv.StripeID, inv.SubscriptionStripeID); err != nil {
			stats.Errors++
			log.Errorf("[Sync] payment %s settle: %v", p.ID, err)
			return nil
		}
		stats.Applied++
		return nil
	})
	if err != nil {
		return stats, err
	}

	log.Infof("[Sync] payments: applied=%d skipped=%d errors=%d",
		stats.Applied, stats.Skipped, stats.Errors)
	return stats, nil
}
