package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeClient wraps the Stripe API for subscription/invoice/credit-note
// listing and collection pause/resume. It implements the dunning
// BillingGateway contract.
type StripeClient struct {
	api *client.API
}

// NewStripeClientFromEnv builds a client from STRIPE_API_KEY.
func NewStripeClientFromEnv() *StripeClient {
	api := &client.API{}
	api.Init(env.GetEnv("STRIPE_API_KEY", ""), nil)
	return &StripeClient{api: api}
}

// ListSubscriptions streams every subscription (all statuses) through fn.
func (c *StripeClient) ListSubscriptions(ctx context.Context, fn func(SubscriptionPayload) error) error {
	params := &stripe.SubscriptionListParams{Status: stripe.String("all")}
	params.Context = ctx
	params.AddExpand("data.customer")
	params.AddExpand("data.customer.tax_ids")

	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		if err := fn(mapSubscription(iter.Subscription())); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ListInvoices streams every invoice through fn.
func (c *StripeClient) ListInvoices(ctx context.Context, fn func(InvoicePayload) error) error {
	params := &stripe.InvoiceListParams{}
	params.Context = ctx

	iter := c.api.Invoices.List(params)
	for iter.Next() {
		if err := fn(mapInvoice(iter.Invoice())); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ListCreditNotes streams every credit note through fn.
func (c *StripeClient) ListCreditNotes(ctx context.Context, fn func(CreditNotePayload) error) error {
	params := &stripe.CreditNoteListParams{}
	params.Context = ctx

	iter := c.api.CreditNotes.List(params)
	for iter.Next() {
		cn := iter.CreditNote()
		p := CreditNotePayload{
			ID:          cn.ID,
			AmountCents: cn.Total,
			CreatedAt:   timeFromUnix(cn.Created),
		}
		if cn.Invoice != nil {
			p.InvoiceID = cn.Invoice.ID
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return iter.Err()
}

// PauseCollection pauses billing for the subscription, voiding invoices that
// would be generated while paused.
func (c *StripeClient) PauseCollection(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		},
	}
	params.Context = ctx
	_, err := c.api.Subscriptions.Update(subscriptionID, params)
	return err
}

// ResumeCollection clears the pause. The API expects an empty string to
// unset pause_collection, which the typed params cannot express.
func (c *StripeClient) ResumeCollection(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")
	_, err := c.api.Subscriptions.Update(subscriptionID, params)
	return err
}

func mapSubscription(s *stripe.Subscription) SubscriptionPayload {
	p := SubscriptionPayload{
		ID:                 s.ID,
		Status:             string(s.Status),
		PauseIndicator:     s.PauseCollection != nil,
		CurrentPeriodStart: timeFromUnix(s.CurrentPeriodStart),
		CurrentPeriodEnd:   timeFromUnix(s.CurrentPeriodEnd),
		Metadata:           s.Metadata,
	}
	if raw, err := json.Marshal(s); err == nil {
		p.RawJSON = string(raw)
	}
	if s.Customer != nil {
		p.CustomerID = s.Customer.ID
		p.CustomerEmail = s.Customer.Email
		p.CustomerName = s.Customer.Name
		if s.Customer.Address != nil {
			p.CustomerCountry = s.Customer.Address.Country
		}
		if s.Customer.TaxIDs != nil && len(s.Customer.TaxIDs.Data) > 0 {
			p.TaxID = s.Customer.TaxIDs.Data[0].Value
		}
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		p.Currency = string(price.Currency)
		p.AmountCents = price.UnitAmount
		if price.Recurring != nil {
			p.BillingInterval = string(price.Recurring.Interval)
		}
	}
	return p
}

func mapInvoice(inv *stripe.Invoice) InvoicePayload {
	p := InvoicePayload{
		ID:                   inv.ID,
		Status:               string(inv.Status),
		Paid:                 inv.Paid,
		Currency:             string(inv.Currency),
		AmountDueCents:       inv.AmountDue,
		AmountPaidCents:      inv.AmountPaid,
		AmountRemainingCents: inv.AmountRemaining,
		CreatedAt:            timeFromUnix(inv.Created),
		DueDate:              timeFromUnix(inv.DueDate),
	}
	if inv.Subscription != nil {
		p.SubscriptionID = inv.Subscription.ID
	}
	if raw, err := json.Marshal(inv); err == nil {
		p.RawJSON = string(raw)
	}
	return p
}

func timeFromUnix(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
