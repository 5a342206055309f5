package syncer

import (
	"fmt"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

type fieldDiff struct {
	Field    string
	Previous string
	Current  string
}

// diffSubscription compares the fields the audit trail watches. Cosmetic
// fields (raw payload, note, converted amounts) are not tracked.
func diffSubscription(old, cur *models.Subscription) []fieldDiff {
	var diffs []fieldDiff
	add := func(field, prev, curVal string) {
		if prev != curVal {
			diffs = append(diffs, fieldDiff{Field: field, Previous: prev, Current: curVal})
		}
	}
	add("status", old.Status, cur.Status)
	add("customer_email", old.CustomerEmail, cur.CustomerEmail)
	add("currency", old.Currency, cur.Currency)
	add("amount_cents", fmt.Sprintf("%d", old.AmountCents), fmt.Sprintf("%d", cur.AmountCents))
	add("current_period_end", timeString(old.CurrentPeriodEnd), timeString(cur.CurrentPeriodEnd))
	return diffs
}

func diffInvoice(old, cur *models.Invoice) []fieldDiff {
	var diffs []fieldDiff
	add := func(field, prev, curVal string) {
		if prev != curVal {
			diffs = append(diffs, fieldDiff{Field: field, Previous: prev, Current: curVal})
		}
	}
	add("status", old.Status, cur.Status)
	add("paid", fmt.Sprintf("%t", old.Paid), fmt.Sprintf("%t", cur.Paid))
	add("amount_remaining_cents", fmt.Sprintf("%d", old.AmountRemainingCents), fmt.Sprintf("%d", cur.AmountRemainingCents))
	return diffs
}

func changesFor(subscriptionID uint, source string, diffs []fieldDiff, at time.Time) []models.SubscriptionChange {
	changes := make([]models.SubscriptionChange, 0, len(diffs))
	for _, d := range diffs {
		changes = append(changes, models.SubscriptionChange{
			SubscriptionID: subscriptionID,
			Source:         source,
			Field:          d.Field,
			Previous:       d.Previous,
			Current:        d.Current,
			DetectedAt:     at,
		})
	}
	return changes
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
