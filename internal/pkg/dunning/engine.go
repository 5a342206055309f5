package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Result summarizes one engine pass.
type Result struct {
	Evaluated    int `json:"evaluated"`
	Scheduled    int `json:"scheduled"`
	Suspended    int `json:"suspended"`
	Reactivated  int `json:"reactivated"`
	WouldSuspend int `json:"would_suspend"`
	Errors       int `json:"errors"`
}

// Engine is the scheduler-invoked dunning batch. Subscriptions are processed
// sequentially; a single subscription's failure is logged and counted, never
// fatal. Re-running the engine inside the same time window is a no-op thanks
// to the notification ledger and the status gates.
type Engine struct {
	repo  Repository
	orch  *Orchestrator
	locks Locker
	now   func() time.Time
}

// NewEngine wires an engine from its collaborators.
func NewEngine(repo Repository, orch *Orchestrator, locks Locker) *Engine {
	return &Engine{repo: repo, orch: orch, locks: locks, now: time.Now}
}

// NewEngineFromDB builds the default production engine.
func NewEngineFromDB(db *gorm.DB, hosting HostingGateway, billing BillingGateway, locks Locker) *Engine {
	repo := NewRepository(db)
	return NewEngine(repo, NewOrchestrator(repo, hosting, billing), locks)
}

// Run evaluates every eligible subscription once. Only the inability to read
// the subscription store is returned as an error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result

	subs, err := e.repo.ListEligibleSubscriptions()
	if err != nil {
		return res, fmt.Errorf("listing subscriptions: %w", err)
	}
	log.Infof("[Dunning] evaluating %d subscriptions", len(subs))

	for i := range subs {
		sub := &subs[i]
		res.Evaluated++
		if err := e.process(ctx, sub, &res); err != nil {
			res.Errors++
			log.Errorf("[Dunning] subscription %d (%s): %v", sub.ID, sub.StripeID, err)
		}
	}

	log.Infof("[Dunning] done: scheduled=%d suspended=%d reactivated=%d would_suspend=%d errors=%d",
		res.Scheduled, res.Suspended, res.Reactivated, res.WouldSuspend, res.Errors)
	return res, nil
}

func (e *Engine) process(ctx context.Context, sub *models.Subscription, res *Result) error {
	release, ok := e.locks.Acquire(ctx, sub.ID)
	if !ok {
		log.Warnf("[Dunning] subscription %d locked by another worker, skipping", sub.ID)
		return nil
	}
	defer release()

	invoices, err := e.repo.UnpaidInvoices(sub.StripeID)
	if err != nil {
		return fmt.Errorf("loading unpaid invoices: %w", err)
	}

	d := Evaluate(sub, invoices, e.now())
	if d.WouldSuspend {
		res.WouldSuspend++
		log.Warnf("[Dunning] subscription %d (%s) would be suspended (oldest unpaid %d days) but auto_suspend is off",
			sub.ID, sub.StripeID, d.AgeDays)
	}

	switch d.Action {
	case ActionWarn5Days, ActionWarn2Days:
		created, err := e.scheduleWarning(sub, d)
		if err != nil {
			return err
		}
		if created {
			res.Scheduled++
		}
	case ActionSuspend:
		if err := e.suspend(ctx, sub, d); err != nil {
			return err
		}
		res.Suspended++
	case ActionReactivate:
		if _, err := e.orch.Reactivate(ctx, sub); err != nil {
			return err
		}
		res.Reactivated++
	}
	return nil
}

// scheduleWarning appends a pending warning to the ledger unless one already
// exists for the current incident. Duplicate attempts are a silent no-op.
func (e *Engine) scheduleWarning(sub *models.Subscription, d Decision) (bool, error) {
	exists, err := e.repo.HasNotificationSince(sub.ID, d.NotificationType(), *d.OldestUnpaidAt)
	if err != nil {
		return false, fmt.Errorf("checking notification ledger: %w", err)
	}
	if exists {
		return false, nil
	}

	n := models.NewSubscriptionNotification(sub, d.NotificationType(), e.now())
	if err := e.repo.CreateNotification(n); err != nil {
		return false, fmt.Errorf("recording %s notification: %w", d.NotificationType(), err)
	}
	log.Infof("[Dunning] scheduled %s for subscription %d (%s)", d.NotificationType(), sub.ID, sub.StripeID)
	return true, nil
}

// suspend runs the orchestrator and then records the suspended notification:
// the customer must be told even when an external leg failed, because the
// local status already advanced to paused. The ledger check keeps the row
// unique per incident when the same incident suspends twice, e.g. after the
// provider briefly reported the subscription un-paused.
func (e *Engine) suspend(ctx context.Context, sub *models.Subscription, d Decision) error {
	reason := fmt.Sprintf("Unpaid invoices (%d open, oldest %d days)", d.UnpaidCount, d.AgeDays)
	if _, err := e.orch.Suspend(ctx, sub, reason); err != nil {
		return err
	}

	exists, err := e.repo.HasNotificationSince(sub.ID, models.NotificationTypeSuspended, *d.OldestUnpaidAt)
	if err != nil {
		return fmt.Errorf("checking notification ledger: %w", err)
	}
	if !exists {
		n := models.NewSubscriptionNotification(sub, models.NotificationTypeSuspended, e.now())
		if err := e.repo.CreateNotification(n); err != nil {
			return fmt.Errorf("recording suspended notification: %w", err)
		}
	}
	log.Infof("[Dunning] suspended subscription %d (%s): %s", sub.ID, sub.StripeID, reason)
	return nil
}

// Inspect returns the current decision for a subscription without acting on
// it. Used by the operator interface.
func (e *Engine) Inspect(sub *models.Subscription) (Decision, error) {
	invoices, err := e.repo.UnpaidInvoices(sub.StripeID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading unpaid invoices: %w", err)
	}
	return Evaluate(sub, invoices, e.now()), nil
}
