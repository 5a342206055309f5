package syncer

import (
	"context"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"gorm.io/gorm"
)

// BillingSource streams subscription, invoice and credit-note collections
// from the payment processor.
type BillingSource interface {
	ListSubscriptions(ctx context.Context, fn func(gateway.SubscriptionPayload) error) error
	ListInvoices(ctx context.Context, fn func(gateway.InvoicePayload) error) error
	ListCreditNotes(ctx context.Context, fn func(gateway.CreditNotePayload) error) error
}

// PaymentSource streams payments from the secondary processor (MercadoPago).
type PaymentSource interface {
	SearchPayments(ctx context.Context, since time.Time, fn func(gateway.PaymentPayload) error) error
}

// RateSource provides fiat conversion rates.
type RateSource interface {
	Rate(ctx context.Context, base, quote string) (float64, error)
}

// EventApplier routes settled payments and externally observed subscription
// transitions into the reconciliation path shared with the webhook ingress.
// Status derivation and the reactivation rule live there, never here.
type EventApplier interface {
	PaymentSucceeded(ctx context.Context, invoiceExtID, subscriptionExtID string) error
	SubscriptionUpdated(ctx context.Context, ev dunning.SubscriptionEvent) error
}

// Stats summarizes one import pass.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Changed int `json:"changed"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Syncer pulls external collections into the local tables, recording
// field-level diffs as it goes. Per-item failures are logged and counted,
// never fatal to the pass.
type Syncer struct {
	db       *gorm.DB
	billing  BillingSource
	payments PaymentSource
	rates    RateSource
	applier  EventApplier
	now      func() time.Time
}

// New wires a syncer. payments, rates and applier may be nil when the
// corresponding import is not configured.
func New(db *gorm.DB, billing BillingSource, payments PaymentSource, rates RateSource, applier EventApplier) *Syncer {
	return &Syncer{
		db:       db,
		billing:  billing,
		payments: payments,
		rates:    rates,
		applier:  applier,
		now:      time.Now,
	}
}
