package models

import "time"

const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

// Invoice is one external billing document. It references its subscription by
// external id rather than a foreign key so invoice and subscription syncs can
// arrive in any order.
type Invoice struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	StripeID             string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_invoices_stripe_id" json:"stripe_id"`
	SubscriptionStripeID string     `gorm:"type:varchar(191);index" json:"subscription_stripe_id"`
	Status               string     `gorm:"type:varchar(32);not null;default:'draft';index" json:"status"`
	Paid                 bool       `gorm:"default:false" json:"paid"`
	Currency             string     `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	AmountDueCents       int64      `gorm:"not null;default:0" json:"amount_due_cents"`
	AmountPaidCents      int64      `gorm:"not null;default:0" json:"amount_paid_cents"`
	AmountRemainingCents int64      `gorm:"not null;default:0" json:"amount_remaining_cents"`
	ExternalCreatedAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"external_created_at,omitempty"`
	DueDate              *time.Time `gorm:"type:timestamp;default:null" json:"due_date,omitempty"`
	RawPayloadJSON       string     `gorm:"type:longtext" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsUnpaid reports whether the invoice counts against its subscription for
// dunning. The external creation timestamp is required because it anchors the
// dunning incident.
func (i *Invoice) IsUnpaid() bool {
	return i.Status == InvoiceStatusOpen && !i.Paid && i.ExternalCreatedAt != nil
}
