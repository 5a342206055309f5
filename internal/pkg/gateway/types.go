package gateway

import "time"

// SubscriptionPayload is the provider-agnostic shape of an external
// subscription handed to the sync importers.
type SubscriptionPayload struct {
	ID                 string
	CustomerID         string
	CustomerEmail      string
	CustomerName       string
	CustomerCountry    string
	TaxID              string
	Status             string
	PauseIndicator     bool
	Currency           string
	AmountCents        int64
	BillingInterval    string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	Metadata           map[string]string
	RawJSON            string
}

// InvoicePayload is the provider-agnostic shape of an external invoice.
type InvoicePayload struct {
	ID                   string
	SubscriptionID       string
	Status               string
	Paid                 bool
	Currency             string
	AmountDueCents       int64
	AmountPaidCents      int64
	AmountRemainingCents int64
	CreatedAt            *time.Time
	DueDate              *time.Time
	RawJSON              string
}

// CreditNotePayload is an external credit note applied against an invoice.
type CreditNotePayload struct {
	ID          string
	InvoiceID   string
	AmountCents int64
	CreatedAt   *time.Time
}

// PaymentPayload is an external payment (MercadoPago). ExternalReference
// carries the local invoice external id when the payment settles one.
type PaymentPayload struct {
	ID                string
	Status            string
	ExternalReference string
	Amount            float64
	Currency          string
	CreatedAt         *time.Time
}
