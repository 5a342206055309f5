package dunning

import (
	"context"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// HostingGateway suspends and unsuspends accounts on the hosting control
// plane.
type HostingGateway interface {
	SuspendAccount(ctx context.Context, server, user, reason string) error
	UnsuspendAccount(ctx context.Context, server, user string) error
}

// BillingGateway pauses and resumes collection at the payment processor.
type BillingGateway interface {
	PauseCollection(ctx context.Context, subscriptionID string) error
	ResumeCollection(ctx context.Context, subscriptionID string) error
}

// SuspendResult reports each external leg separately. A failed leg never
// blocks the other one, and never blocks the local status change.
type SuspendResult struct {
	HostingOK      bool
	HostingSkipped bool
	HostingErr     error
	BillingOK      bool
	BillingSkipped bool
	BillingErr     error
}

// ReactivateResult mirrors SuspendResult for the inverse operation.
type ReactivateResult = SuspendResult

// Orchestrator executes the two-system suspend/reactivate side effect. Local
// status reflects administrative intent, not confirmation from both externals:
// a degraded external is reconciled later by its own webhooks or the next
// sync.
type Orchestrator struct {
	repo    Repository
	hosting HostingGateway
	billing BillingGateway
	now     func() time.Time
}

// NewOrchestrator wires the orchestrator from its collaborators.
func NewOrchestrator(repo Repository, hosting HostingGateway, billing BillingGateway) *Orchestrator {
	return &Orchestrator{repo: repo, hosting: hosting, billing: billing, now: time.Now}
}

// Suspend pauses billing and suspends hosting, then flips the local status to
// paused regardless of leg outcomes. The hosting leg is skipped entirely when
// the subscription carries no hosting metadata; the billing leg is skipped
// for manual subscriptions.
func (o *Orchestrator) Suspend(ctx context.Context, sub *models.Subscription, reason string) (SuspendResult, error) {
	var res SuspendResult

	if info, ok := sub.Hosting(); ok {
		if err := o.hosting.SuspendAccount(ctx, info.Server, info.User, reason); err != nil {
			res.HostingErr = err
			log.Errorf("[Dunning] hosting suspend failed for subscription %d (%s@%s): %v",
				sub.ID, info.User, info.Server, err)
		} else {
			res.HostingOK = true
		}
	} else {
		res.HostingSkipped = true
		log.Warnf("[Dunning] subscription %d has no hosting metadata, skipping hosting suspend", sub.ID)
	}

	if sub.IsManaged() {
		if err := o.billing.PauseCollection(ctx, sub.StripeID); err != nil {
			res.BillingErr = err
			log.Errorf("[Dunning] billing pause failed for subscription %d (%s): %v",
				sub.ID, sub.StripeID, err)
		} else {
			res.BillingOK = true
		}
	} else {
		res.BillingSkipped = true
	}

	if err := o.repo.UpdateSubscriptionStatus(sub.ID, models.SubscriptionStatusPaused); err != nil {
		return res, err
	}
	sub.Status = models.SubscriptionStatusPaused
	return res, nil
}

// Reactivate unsuspends hosting and resumes billing, flips the local status
// to active and appends one reactivated ledger row. Calling it on an already
// active subscription repeats the external calls (no-ops on the gateway side)
// but produces no local side effect beyond the ledger row.
func (o *Orchestrator) Reactivate(ctx context.Context, sub *models.Subscription) (ReactivateResult, error) {
	var res ReactivateResult

	if info, ok := sub.Hosting(); ok {
		if err := o.hosting.UnsuspendAccount(ctx, info.Server, info.User); err != nil {
			res.HostingErr = err
			log.Errorf("[Dunning] hosting unsuspend failed for subscription %d (%s@%s): %v",
				sub.ID, info.User, info.Server, err)
		} else {
			res.HostingOK = true
		}
	} else {
		res.HostingSkipped = true
	}

	if sub.IsManaged() {
		if err := o.billing.ResumeCollection(ctx, sub.StripeID); err != nil {
			res.BillingErr = err
			log.Errorf("[Dunning] billing resume failed for subscription %d (%s): %v",
				sub.ID, sub.StripeID, err)
		} else {
			res.BillingOK = true
		}
	} else {
		res.BillingSkipped = true
	}

	if err := o.repo.UpdateSubscriptionStatus(sub.ID, models.SubscriptionStatusActive); err != nil {
		return res, err
	}
	sub.Status = models.SubscriptionStatusActive

	n := models.NewSubscriptionNotification(sub, models.NotificationTypeReactivated, o.now())
	if err := o.repo.CreateNotification(n); err != nil {
		log.Errorf("[Dunning] recording reactivated notification for subscription %d: %v", sub.ID, err)
	}
	return res, nil
}
