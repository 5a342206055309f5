package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const sourceCreditNote = "credit_note"

// SyncCreditNotes applies provider credit notes against local invoices. Each
// note is applied at most once; a fully credited invoice is voided so it
// stops counting for dunning.
func (s *Syncer) SyncCreditNotes(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.billing.ListCreditNotes(ctx, func(p gateway.CreditNotePayload) error {
		applied, err := s.applyCreditNote(p)
		if err != nil {
			stats.Errors++
			log.Errorf("[Sync] credit note %s: %v", p.ID, err)
			return nil
		}
		if applied {
			stats.Applied++
		} else {
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	log.Infof("[Sync] credit notes: applied=%d skipped=%d errors=%d",
		stats.Applied, stats.Skipped, stats.Errors)
	return stats, nil
}

func (s *Syncer) applyCreditNote(p gateway.CreditNotePayload) (bool, error) {
	var inv models.Invoice
	if err := s.db.Where("stripe_id = ?", p.InvoiceID).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Sync] credit note %s references unknown invoice %s", p.ID, p.InvoiceID)
			return false, nil
		}
		return false, err
	}

	sub, err := s.subscriptionFor(inv.SubscriptionStripeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Sync] credit note %s: invoice %s has no local subscription", p.ID, p.InvoiceID)
			return false, nil
		}
		return false, err
	}

	marker := fmt.Sprintf("credit_note:%s", p.ID)
	var seen int64
	if err := s.db.Model(&models.SubscriptionChange{}).
		Where("subscription_id = ? AND source = ? AND field = ?", sub.ID, sourceCreditNote, marker).
		Count(&seen).Error; err != nil {
		return false, err
	}
	if seen > 0 {
		return false, nil
	}

	remaining := inv.AmountRemainingCents - p.AmountCents
	if remaining < 0 {
		remaining = 0
	}
	updates := map[string]interface{}{
		"amount_remaining_cents": remaining,
	}
	if remaining == 0 {
		updates["status"] = models.InvoiceStatusVoid
	}

	return true, s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		change := models.SubscriptionChange{
			SubscriptionID: sub.ID,
			Source:         sourceCreditNote,
			Field:          marker,
			Previous:       fmt.Sprintf("%d", inv.AmountRemainingCents),
			Current:        fmt.Sprintf("%d", remaining),
			DetectedAt:     s.now(),
		}
		return tx.Create(&change).Error
	})
}
