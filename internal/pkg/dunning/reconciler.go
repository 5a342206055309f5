package dunning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// SubscriptionEvent is the normalized shape of an external subscription
// update.
type SubscriptionEvent struct {
	StripeID         string
	RawStatus        string
	PauseIndicator   bool
	CurrentPeriodEnd *time.Time
}

// Reconciler consumes asynchronous payment/subscription events and re-runs
// the same eligibility rule as the batch engine, collapsing the wait for the
// next scheduled pass to seconds. Unknown external ids are not errors: the
// sync importers may simply not have seen the entity yet.
type Reconciler struct {
	repo      Repository
	orch      *Orchestrator
	locks     Locker
	now       func() time.Time
	lockRetry time.Duration
}

// NewReconciler wires a reconciler from its collaborators.
func NewReconciler(repo Repository, orch *Orchestrator, locks Locker) *Reconciler {
	return &Reconciler{repo: repo, orch: orch, locks: locks, now: time.Now, lockRetry: 500 * time.Millisecond}
}

// NewReconcilerFromDB builds the default production reconciler.
func NewReconcilerFromDB(db *gorm.DB, hosting HostingGateway, billing BillingGateway, locks Locker) *Reconciler {
	repo := NewRepository(db)
	return NewReconciler(repo, NewOrchestrator(repo, hosting, billing), locks)
}

// PaymentSucceeded marks the local invoice paid and immediately re-evaluates
// reactivation for its subscription. A customer who just paid must never be
// suspended afterwards by a stale batch run; the per-subscription lock closes
// that race.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, invoiceExtID, subscriptionExtID string) error {
	inv, err := r.repo.GetInvoiceByStripeID(invoiceExtID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[Reconciler] payment for unknown invoice %s, ignoring", invoiceExtID)
		return nil
	case err != nil:
		return err
	}

	if err := r.repo.MarkInvoicePaid(inv.ID); err != nil {
		return err
	}

	subExtID := subscriptionExtID
	if subExtID == "" {
		subExtID = inv.SubscriptionStripeID
	}
	sub, err := r.repo.GetSubscriptionByStripeID(subExtID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[Reconciler] invoice %s references unknown subscription %s, ignoring", invoiceExtID, subExtID)
		return nil
	case err != nil:
		return err
	}

	return r.reactivateIfEligible(ctx, sub)
}

// SubscriptionUpdated reconciles local status from an external subscription
// payload. The derived status (pause indicator wins) is authoritative; a
// transition out of paused with the unpaid count below the gate triggers the
// reactivate path.
func (r *Reconciler) SubscriptionUpdated(ctx context.Context, ev SubscriptionEvent) error {
	sub, err := r.repo.GetSubscriptionByStripeID(ev.StripeID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[Reconciler] update for unknown subscription %s, ignoring", ev.StripeID)
		return nil
	case err != nil:
		return err
	}

	release, ok := r.locks.Acquire(ctx, sub.ID)
	if !ok {
		log.Warnf("[Reconciler] subscription %d locked, deferring update to next sync", sub.ID)
		return nil
	}
	defer release()

	derived := DeriveStatus(ev.RawStatus, ev.PauseIndicator)
	wasPaused := sub.Status == models.SubscriptionStatusPaused

	if wasPaused && derived != models.SubscriptionStatusPaused {
		invoices, err := r.repo.UnpaidInvoices(sub.StripeID)
		if err != nil {
			return err
		}
		if len(invoices) < minUnpaidForDunning {
			_, err := r.orch.Reactivate(ctx, sub)
			return err
		}
	}

	if derived == sub.Status {
		return nil
	}
	if err := r.repo.UpdateSubscriptionStatus(sub.ID, derived); err != nil {
		return err
	}
	log.Infof("[Reconciler] subscription %d (%s) status %s -> %s", sub.ID, sub.StripeID, sub.Status, derived)
	sub.Status = derived
	return nil
}

// SubscriptionDeleted marks the subscription canceled. Canceled is terminal:
// no dunning action ever applies again.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, subscriptionExtID string) error {
	sub, err := r.repo.GetSubscriptionByStripeID(subscriptionExtID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[Reconciler] delete for unknown subscription %s, ignoring", subscriptionExtID)
		return nil
	case err != nil:
		return err
	}

	release, ok := r.locks.Acquire(ctx, sub.ID)
	if !ok {
		log.Warnf("[Reconciler] subscription %d locked, retry delete on next event", sub.ID)
		return nil
	}
	defer release()

	return r.repo.UpdateSubscriptionStatus(sub.ID, models.SubscriptionStatusCanceled)
}

// reactivateIfEligible re-evaluates a subscription after a payment landed.
// The lock is taken blocking here: the batch engine may be mid-suspend for
// this very subscription, and the payment has to win once it releases.
func (r *Reconciler) reactivateIfEligible(ctx context.Context, sub *models.Subscription) error {
	release, err := r.acquire(ctx, sub.ID)
	if err != nil {
		return err
	}
	defer release()

	// The holder we waited on may have advanced the status.
	sub, err = r.repo.GetSubscription(sub.ID)
	if err != nil {
		return err
	}

	invoices, err := r.repo.UnpaidInvoices(sub.StripeID)
	if err != nil {
		return err
	}
	d := Evaluate(sub, invoices, r.now())
	if d.Action != ActionReactivate {
		return nil
	}
	_, err = r.orch.Reactivate(ctx, sub)
	return err
}

// acquire polls the per-subscription lock until it is free or ctx expires.
// A timeout is an error so the provider retries the delivery.
func (r *Reconciler) acquire(ctx context.Context, subscriptionID uint) (func(), error) {
	for {
		if release, ok := r.locks.Acquire(ctx, subscriptionID); ok {
			return release, nil
		}
		log.Debugf("[Reconciler] subscription %d locked, waiting", subscriptionID)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for subscription %d lock: %w", subscriptionID, ctx.Err())
		case <-time.After(r.lockRetry):
		}
	}
}
