package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionKindSell = "sell"
	SubscriptionKindBuy  = "buy"
)

const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusPaused            = "paused"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
)

// Data keys carried in the subscription metadata bag.
const (
	DataKeyServer      = "server"
	DataKeyUser        = "user"
	DataKeyDomain      = "domain"
	DataKeyAutoSuspend = "auto_suspend"
)

// Subscription mirrors one provider subscription (or a locally managed "buy"
// entry) and is the single mutable point of the dunning lifecycle. Status is
// only ever written by the dunning engine/orchestrator or by reconciling an
// external event.
type Subscription struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	StripeID           string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_stripe_id" json:"stripe_id"`
	Kind               string            `gorm:"type:varchar(10);not null;default:'sell';index" json:"kind"`
	CustomerID         string            `gorm:"type:varchar(191);index" json:"customer_id"`
	CustomerEmail      string            `gorm:"type:varchar(191)" json:"customer_email"`
	CustomerName       string            `gorm:"type:varchar(191)" json:"customer_name"`
	CustomerCountry    string            `gorm:"type:varchar(2)" json:"customer_country"`
	TaxID              string            `gorm:"type:varchar(64)" json:"tax_id"`
	Status             string            `gorm:"type:varchar(32);not null;default:'active';index:idx_subscriptions_status_period,priority:1" json:"status" validate:"oneof=active trialing past_due paused canceled unpaid incomplete incomplete_expired"`
	Currency           string            `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	AmountCents        int64             `gorm:"not null;default:0" json:"amount_cents"`
	BillingInterval    string            `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	CurrentPeriodStart *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time        `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_period,priority:2" json:"current_period_end,omitempty"`
	Data               datatypes.JSONMap `gorm:"type:json" json:"data"`
	AmountUSDCents     int64             `gorm:"not null;default:0" json:"amount_usd_cents"`
	AmountARSCents     int64             `gorm:"not null;default:0" json:"amount_ars_cents"`
	RateDate           *time.Time        `gorm:"type:timestamp;default:null" json:"rate_date,omitempty"`
	InvoiceNote        string            `gorm:"type:text" json:"invoice_note"`
	RawPayloadJSON     string            `gorm:"type:longtext" json:"-"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// HostingInfo is the typed view of the hosting fields in the metadata bag.
type HostingInfo struct {
	Server string
	User   string
	Domain string
}

// Hosting returns the hosting capability of the subscription. The capability
// is present only when both server and user are set.
func (s *Subscription) Hosting() (HostingInfo, bool) {
	info := HostingInfo{
		Server: s.dataString(DataKeyServer),
		User:   s.dataString(DataKeyUser),
		Domain: s.dataString(DataKeyDomain),
	}
	return info, info.Server != "" && info.User != ""
}

// AutoSuspend reports whether the operator allowed automatic suspension for
// this subscription. Absent means no.
func (s *Subscription) AutoSuspend() bool {
	if s.Data == nil {
		return false
	}
	switch v := s.Data[DataKeyAutoSuspend].(type) {
	case bool:
		return v
	case string:
		t := strings.ToLower(strings.TrimSpace(v))
		return t == "1" || t == "true" || t == "yes"
	case float64:
		return v != 0
	default:
		return false
	}
}

// IsManaged reports whether the subscription is billed by the payment
// processor. Manual ("buy" or locally created) entries never get billing
// side effects, only local status changes.
func (s *Subscription) IsManaged() bool {
	return strings.HasPrefix(s.StripeID, "sub_")
}

func (s *Subscription) dataString(key string) string {
	if s.Data == nil {
		return ""
	}
	if v, ok := s.Data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
