package dunning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

var evalNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func unpaidInvoice(id string, ageDays int) models.Invoice {
	created := evalNow.Add(-time.Duration(ageDays) * 24 * time.Hour)
	return models.Invoice{
		StripeID:          id,
		Status:            models.InvoiceStatusOpen,
		Paid:              false,
		ExternalCreatedAt: &created,
	}
}

func activeSub(autoSuspend bool) *models.Subscription {
	sub := &models.Subscription{
		ID:       1,
		StripeID: "sub_123",
		Status:   models.SubscriptionStatusActive,
		Data:     map[string]interface{}{},
	}
	if autoSuspend {
		sub.Data[models.DataKeyAutoSuspend] = true
	}
	return sub
}

func TestEvaluateWindows(t *testing.T) {
	tests := []struct {
		name        string
		oldestAge   int
		autoSuspend bool
		want        Action
	}{
		{"before first window", 39, true, ActionNone},
		{"first warning at 40", 40, true, ActionWarn5Days},
		{"first warning at 42", 42, true, ActionWarn5Days},
		{"final warning at 43", 43, true, ActionWarn2Days},
		{"final warning at 44", 44, true, ActionWarn2Days},
		{"suspend at 45", 45, true, ActionSuspend},
		{"suspend long overdue", 120, true, ActionSuspend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoices := []models.Invoice{
				unpaidInvoice("in_old", tt.oldestAge),
				unpaidInvoice("in_new", 5),
			}
			d := Evaluate(activeSub(tt.autoSuspend), invoices, evalNow)
			assert.Equal(t, tt.want, d.Action)
			assert.Equal(t, 2, d.UnpaidCount)
			assert.Equal(t, tt.oldestAge, d.AgeDays)
		})
	}
}

func TestEvaluateAgeTruncatesToWholeDays(t *testing.T) {
	// 44 days and 23 hours old: still inside the final-warning window.
	created := evalNow.Add(-(44*24 + 23) * time.Hour)
	almost := models.Invoice{
		StripeID:          "in_almost",
		Status:            models.InvoiceStatusOpen,
		ExternalCreatedAt: &created,
	}
	invoices := []models.Invoice{almost, unpaidInvoice("in_b", 3)}

	d := Evaluate(activeSub(true), invoices, evalNow)
	assert.Equal(t, ActionWarn2Days, d.Action)
	assert.Equal(t, 44, d.AgeDays)
}

func TestEvaluateSingleUnpaidInvoiceIsGrace(t *testing.T) {
	invoices := []models.Invoice{unpaidInvoice("in_old", 90)}

	d := Evaluate(activeSub(true), invoices, evalNow)
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, 1, d.UnpaidCount)
	assert.False(t, d.WouldSuspend)
}

func TestEvaluateAutoSuspendDisabled(t *testing.T) {
	invoices := []models.Invoice{
		unpaidInvoice("in_a", 50),
		unpaidInvoice("in_b", 20),
	}

	d := Evaluate(activeSub(false), invoices, evalNow)
	assert.Equal(t, ActionNone, d.Action)
	assert.True(t, d.WouldSuspend)
}

func TestEvaluateIgnoresPaidAndNonOpenInvoices(t *testing.T) {
	created := evalNow.Add(-50 * 24 * time.Hour)
	invoices := []models.Invoice{
		{StripeID: "in_paid", Status: models.InvoiceStatusPaid, Paid: true, ExternalCreatedAt: &created},
		{StripeID: "in_void", Status: models.InvoiceStatusVoid, ExternalCreatedAt: &created},
		{StripeID: "in_no_ts", Status: models.InvoiceStatusOpen},
		unpaidInvoice("in_open", 41),
	}

	d := Evaluate(activeSub(true), invoices, evalNow)
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, 1, d.UnpaidCount)
}

func TestEvaluateOldestUnpaidAnchorsIncident(t *testing.T) {
	oldest := unpaidInvoice("in_oldest", 41)
	invoices := []models.Invoice{unpaidInvoice("in_newer", 10), oldest}

	d := Evaluate(activeSub(true), invoices, evalNow)
	require.NotNil(t, d.OldestUnpaidAt)
	assert.Equal(t, oldest.ExternalCreatedAt.Unix(), d.OldestUnpaidAt.Unix())
	assert.Equal(t, models.NotificationTypeWarning5Days, d.NotificationType())
}

func TestEvaluateReactivation(t *testing.T) {
	tests := []struct {
		name   string
		status string
		unpaid int
		want   Action
	}{
		{"paused with zero unpaid", models.SubscriptionStatusPaused, 0, ActionReactivate},
		{"paused with one unpaid", models.SubscriptionStatusPaused, 1, ActionReactivate},
		{"paused still above gate", models.SubscriptionStatusPaused, 2, ActionNone},
		{"past_due with zero unpaid", models.SubscriptionStatusPastDue, 0, ActionReactivate},
		{"past_due with one unpaid stays", models.SubscriptionStatusPastDue, 1, ActionNone},
		{"active with zero unpaid", models.SubscriptionStatusActive, 0, ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := activeSub(true)
			sub.Status = tt.status
			var invoices []models.Invoice
			for i := 0; i < tt.unpaid; i++ {
				invoices = append(invoices, unpaidInvoice("in_x", 60+i))
			}
			d := Evaluate(sub, invoices, evalNow)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestEvaluateTerminalStatusesNeverAct(t *testing.T) {
	for _, status := range []string{
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid,
		models.SubscriptionStatusIncomplete,
		models.SubscriptionStatusIncompleteExpired,
	} {
		t.Run(status, func(t *testing.T) {
			sub := activeSub(true)
			sub.Status = status
			invoices := []models.Invoice{
				unpaidInvoice("in_a", 90),
				unpaidInvoice("in_b", 60),
			}
			d := Evaluate(sub, invoices, evalNow)
			assert.Equal(t, ActionNone, d.Action)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		pauseIndicator bool
		want           string
	}{
		{"active", "active", false, models.SubscriptionStatusActive},
		{"pause wins over active", "active", true, models.SubscriptionStatusPaused},
		{"pause wins over past_due", "past_due", true, models.SubscriptionStatusPaused},
		{"past_due", "past_due", false, models.SubscriptionStatusPastDue},
		{"trialing", "trialing", false, models.SubscriptionStatusTrialing},
		{"canceled", "canceled", false, models.SubscriptionStatusCanceled},
		{"unknown maps to incomplete", "weird", false, models.SubscriptionStatusIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.raw, tt.pauseIndicator))
		})
	}
}
