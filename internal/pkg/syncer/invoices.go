package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncInvoices imports every provider invoice and refreshes the cached
// invoice note on the touched subscriptions.
func (s *Syncer) SyncInvoices(ctx context.Context) (Stats, error) {
	var stats Stats
	touched := make(map[string]struct{})

	err := s.billing.ListInvoices(ctx, func(p gateway.InvoicePayload) error {
		if err := s.upsertInvoice(p, &stats); err != nil {
			stats.Errors++
			log.Errorf("[Sync] invoice %s: %v", p.ID, err)
			return nil
		}
		if p.SubscriptionID != "" {
			touched[p.SubscriptionID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for subStripeID := range touched {
		if err := s.refreshInvoiceNote(subStripeID); err != nil {
			stats.Errors++
			log.Errorf("[Sync] invoice note for %s: %v", subStripeID, err)
		}
	}

	log.Infof("[Sync] invoices: created=%d updated=%d changed=%d errors=%d",
		stats.Created, stats.Updated, stats.Changed, stats.Errors)
	return stats, nil
}

func (s *Syncer) upsertInvoice(p gateway.InvoicePayload, stats *Stats) error {
	var existing models.Invoice
	err := s.db.Where("stripe_id = ?", p.ID).First(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return err
	}

	inv := models.Invoice{
		StripeID:             p.ID,
		SubscriptionStripeID: p.SubscriptionID,
		Status:               p.Status,
		Paid:                 p.Paid,
		Currency:             p.Currency,
		AmountDueCents:       p.AmountDueCents,
		AmountPaidCents:      p.AmountPaidCents,
		AmountRemainingCents: p.AmountRemainingCents,
		ExternalCreatedAt:    p.CreatedAt,
		DueDate:              p.DueDate,
		RawPayloadJSON:       p.RawJSON,
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_stripe_id",
			"status",
			"paid",
			"currency",
			"amount_due_cents",
			"amount_paid_cents",
			"amount_remaining_cents",
			"external_created_at",
			"due_date",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(&inv).Error; err != nil {
		return err
	}

	if isNew {
		stats.Created++
		return nil
	}
	stats.Updated++

	diffs := diffInvoice(&existing, &inv)
	if len(diffs) == 0 {
		return nil
	}
	sub, err := s.subscriptionFor(p.SubscriptionID)
	if err != nil {
		// Invoice for a subscription the importer has not seen yet; the next
		// subscription pass reconciles it.
		log.Warnf("[Sync] invoice %s references unknown subscription %s", p.ID, p.SubscriptionID)
		return nil
	}
	changes := changesFor(sub.ID, sourceStripeSync, diffs, s.now())
	if err := s.db.Create(&changes).Error; err != nil {
		return err
	}
	stats.Changed += len(diffs)
	return nil
}

// refreshInvoiceNote rebuilds the human-readable open-invoice summary cached
// on the subscription row.
func (s *Syncer) refreshInvoiceNote(subscriptionStripeID string) error {
	sub, err := s.subscriptionFor(subscriptionStripeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	var open []models.Invoice
	if err := s.db.
		Where("subscription_stripe_id = ? AND status = ? AND paid = ?",
			subscriptionStripeID, models.InvoiceStatusOpen, false).
		Order("external_created_at").
		Find(&open).Error; err != nil {
		return err
	}

	note := ""
	if len(open) > 0 {
		oldest := open[0]
		var totalCents int64
		for _, inv := range open {
			totalCents += inv.AmountRemainingCents
		}
		when := "unknown date"
		if oldest.ExternalCreatedAt != nil {
			when = oldest.ExternalCreatedAt.UTC().Format("2006-01-02")
		}
		note = fmt.Sprintf("%d open invoice(s), oldest %s, %.2f %s outstanding",
			len(open), when, float64(totalCents)/100, oldest.Currency)
	}

	return s.db.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("invoice_note", note).Error
}

func (s *Syncer) subscriptionFor(stripeID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Where("stripe_id = ?", stripeID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
