package dunning

import (
	"fmt"
	"sort"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

// Day windows for the oldest unpaid invoice, in whole days.
const (
	FirstWarningAfterDays = 40
	FinalWarningAfterDays = 43
	SuspendAfterDays      = 45
)

// A single unpaid invoice never triggers dunning: one open invoice is normal
// billing-cycle overlap.
const minUnpaidForDunning = 2

type Action string

const (
	ActionNone       Action = "no_action"
	ActionWarn5Days  Action = "warn_5_days"
	ActionWarn2Days  Action = "warn_2_days"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
)

// Decision is the outcome of the eligibility rule for one subscription.
type Decision struct {
	Action      Action
	UnpaidCount int
	AgeDays     int
	// OldestUnpaidAt anchors the incident: ledger rows created before it do
	// not suppress new notifications.
	OldestUnpaidAt *time.Time
	// WouldSuspend is set when the suspend window was hit but the
	// subscription has auto_suspend disabled.
	WouldSuspend bool
	Trace        []string
}

// NotificationType maps a warning action to its ledger row type.
func (d Decision) NotificationType() string {
	switch d.Action {
	case ActionWarn5Days:
		return models.NotificationTypeWarning5Days
	case ActionWarn2Days:
		return models.NotificationTypeWarning2Days
	default:
		return ""
	}
}

// Evaluate is the single source of truth for dunning decisions. The scheduled
// batch, the webhook reconciler and the operator CLI all call it; thresholds
// are never duplicated elsewhere.
//
// Invoice age is computed as whole elapsed 24h periods in UTC, truncated
// toward zero: a subscription reaches 45 days only after 45 full days have
// passed.
func Evaluate(sub *models.Subscription, invoices []models.Invoice, now time.Time) Decision {
	d := Decision{Action: ActionNone}

	unpaid := unpaidSorted(invoices)
	d.UnpaidCount = len(unpaid)
	if len(unpaid) > 0 {
		d.OldestUnpaidAt = unpaid[0].ExternalCreatedAt
	}
	d.tracef("status=%s unpaid=%d", sub.Status, len(unpaid))

	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, models.SubscriptionStatusPaused:
	default:
		d.tracef("status not evaluated by dunning")
		return d
	}

	// Reactivation takes priority over warning/suspension: a paused
	// subscription whose unpaid count dropped below the gate is brought back
	// regardless of how old the remaining invoice is. past_due reactivates
	// only once nothing is owed.
	if len(unpaid) < minUnpaidForDunning {
		if sub.Status == models.SubscriptionStatusPaused ||
			(sub.Status == models.SubscriptionStatusPastDue && len(unpaid) == 0) {
			d.Action = ActionReactivate
			d.tracef("unpaid below gate, reactivate")
			return d
		}
		d.tracef("unpaid below gate (%d < %d), grace", len(unpaid), minUnpaidForDunning)
		return d
	}

	// Paused subscriptions are only ever evaluated for reactivation.
	if sub.Status == models.SubscriptionStatusPaused {
		d.tracef("already paused, nothing to do")
		return d
	}

	age := int(now.UTC().Sub(unpaid[0].ExternalCreatedAt.UTC()).Hours() / 24)
	d.AgeDays = age
	d.tracef("oldest unpaid invoice is %d days old", age)

	// Most severe window first, so a long-overdue account is suspended even
	// if the warning windows were missed.
	switch {
	case age >= SuspendAfterDays:
		if !sub.AutoSuspend() {
			d.WouldSuspend = true
			d.tracef("would suspend, but auto_suspend is disabled")
			return d
		}
		d.Action = ActionSuspend
		d.tracef("suspend window reached")
	case age >= FinalWarningAfterDays:
		d.Action = ActionWarn2Days
		d.tracef("final warning window")
	case age >= FirstWarningAfterDays:
		d.Action = ActionWarn5Days
		d.tracef("first warning window")
	default:
		d.tracef("outside all windows")
	}
	return d
}

// DeriveStatus computes the canonical local status from a raw external status
// and the presence of a pause indicator on the payload. The pause indicator
// is authoritative: a subscription can report "active" while its collection
// is administratively paused.
func DeriveStatus(rawStatus string, pauseIndicator bool) string {
	if pauseIndicator {
		return models.SubscriptionStatusPaused
	}
	switch rawStatus {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid,
		models.SubscriptionStatusIncomplete,
		models.SubscriptionStatusIncompleteExpired:
		return rawStatus
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func unpaidSorted(invoices []models.Invoice) []models.Invoice {
	var unpaid []models.Invoice
	for _, inv := range invoices {
		if inv.IsUnpaid() {
			unpaid = append(unpaid, inv)
		}
	}
	sort.Slice(unpaid, func(i, j int) bool {
		return unpaid[i].ExternalCreatedAt.Before(*unpaid[j].ExternalCreatedAt)
	})
	return unpaid
}

func (d *Decision) tracef(format string, args ...interface{}) {
	d.Trace = append(d.Trace, fmt.Sprintf(format, args...))
}
