package syncer

import (
	"context"
	"errors"
	"math"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sourceStripeSync = "stripe_sync"

// SyncSubscriptions imports every provider subscription, upserting by
// external id and recording field-level diffs.
func (s *Syncer) SyncSubscriptions(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.billing.ListSubscriptions(ctx, func(p gateway.SubscriptionPayload) error {
		if err := s.upsertSubscription(ctx, p, &stats); err != nil {
			stats.Errors++
			log.Errorf("[Sync] subscription %s: %v", p.ID, err)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	log.Infof("[Sync] subscriptions: created=%d updated=%d changed=%d errors=%d",
		stats.Created, stats.Updated, stats.Changed, stats.Errors)
	return stats, nil
}

func (s *Syncer) upsertSubscription(ctx context.Context, p gateway.SubscriptionPayload, stats *Stats) error {
	var existing models.Subscription
	err := s.db.Where("stripe_id = ?", p.ID).First(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return err
	}

	derived := dunning.DeriveStatus(p.Status, p.PauseIndicator)
	sub := models.Subscription{
		StripeID:           p.ID,
		Kind:               models.SubscriptionKindSell,
		CustomerID:         p.CustomerID,
		CustomerEmail:      p.CustomerEmail,
		CustomerName:       p.CustomerName,
		CustomerCountry:    p.CustomerCountry,
		TaxID:              p.TaxID,
		Status:             derived,
		Currency:           p.Currency,
		AmountCents:        p.AmountCents,
		BillingInterval:    p.BillingInterval,
		CurrentPeriodStart: p.CurrentPeriodStart,
		CurrentPeriodEnd:   p.CurrentPeriodEnd,
		Data:               mergeData(existing.Data, p.Metadata),
		RawPayloadJSON:     p.RawJSON,
	}
	s.convertAmounts(ctx, &sub)

	// A locally paused subscription leaving pause goes through the
	// reconciler, which owns the reactivation rule; the upsert keeps the
	// local status untouched so hosting is never left behind.
	delegated := !isNew && s.applier != nil && delegateStatus(existing.Status, derived)
	if delegated {
		sub.Status = existing.Status
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"customer_email",
			"customer_name",
			"customer_country",
			"tax_id",
			"status",
			"currency",
			"amount_cents",
			"billing_interval",
			"current_period_start",
			"current_period_end",
			"data",
			"amount_usd_cents",
			"amount_ars_cents",
			"rate_date",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(&sub).Error; err != nil {
		return err
	}

	if isNew {
		stats.Created++
		return nil
	}
	stats.Updated++

	diffs := diffSubscription(&existing, &sub)
	if len(diffs) > 0 {
		changes := changesFor(existing.ID, sourceStripeSync, diffs, s.now())
		if err := s.db.Create(&changes).Error; err != nil {
			return err
		}
		stats.Changed += len(diffs)
	}

	if delegated {
		if err := s.applier.SubscriptionUpdated(ctx, dunning.SubscriptionEvent{
			StripeID:         p.ID,
			RawStatus:        p.Status,
			PauseIndicator:   p.PauseIndicator,
			CurrentPeriodEnd: p.CurrentPeriodEnd,
		}); err != nil {
			return err
		}
		stats.Applied++
	}
	return nil
}

// delegateStatus reports whether a status transition observed by the import
// must be applied by the reconciler instead of the upsert.
func delegateStatus(existingStatus, derivedStatus string) bool {
	return existingStatus == models.SubscriptionStatusPaused &&
		derivedStatus != models.SubscriptionStatusPaused
}

// convertAmounts fills the multi-currency columns from cached rates. Rate
// failures degrade to unconverted amounts, never to a failed sync.
func (s *Syncer) convertAmounts(ctx context.Context, sub *models.Subscription) {
	if s.rates == nil || sub.AmountCents == 0 || sub.Currency == "" {
		return
	}
	usd, errUSD := s.rates.Rate(ctx, sub.Currency, "USD")
	ars, errARS := s.rates.Rate(ctx, sub.Currency, "ARS")
	if errUSD != nil || errARS != nil {
		log.Warnf("[Sync] rates unavailable for %s: usd=%v ars=%v", sub.Currency, errUSD, errARS)
		return
	}
	sub.AmountUSDCents = int64(math.Round(float64(sub.AmountCents) * usd))
	sub.AmountARSCents = int64(math.Round(float64(sub.AmountCents) * ars))
	now := s.now()
	sub.RateDate = &now
}

// mergeData overlays provider metadata on the local data bag, preserving
// local-only operational keys the provider does not know about.
func mergeData(existing datatypes.JSONMap, metadata map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
