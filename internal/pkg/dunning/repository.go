package dunning

import (
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"gorm.io/gorm"
)

// Repository provides the DB operations used by the engine, orchestrator and
// reconciler.
type Repository interface {
	// ListEligibleSubscriptions returns revenue subscriptions the scheduled
	// batch evaluates: status active/past_due/paused with a known current
	// period end.
	ListEligibleSubscriptions() ([]models.Subscription, error)
	GetSubscription(id uint) (*models.Subscription, error)
	GetSubscriptionByStripeID(stripeID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(id uint, status string) error

	UnpaidInvoices(subscriptionStripeID string) ([]models.Invoice, error)
	GetInvoiceByStripeID(stripeID string) (*models.Invoice, error)
	MarkInvoicePaid(id uint) error

	// HasNotificationSince reports whether a ledger row of the given type
	// exists for the subscription with created_at >= anchor. This is the
	// incident-anchored idempotency check.
	HasNotificationSince(subscriptionID uint, notificationType string, anchor time.Time) (bool, error)
	CreateNotification(n *models.SubscriptionNotification) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a dunning repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListEligibleSubscriptions() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("kind = ?", models.SubscriptionKindSell).
		Where("status IN ?", []string{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusPastDue,
			models.SubscriptionStatusPaused,
		}).
		Where("current_period_end IS NOT NULL").
		Order("id").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_id = ?", stripeID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateSubscriptionStatus(id uint, status string) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *gormRepository) UnpaidInvoices(subscriptionStripeID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.
		Where("subscription_stripe_id = ?", subscriptionStripeID).
		Where("status = ? AND paid = ? AND external_created_at IS NOT NULL",
			models.InvoiceStatusOpen, false).
		Order("external_created_at").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) GetInvoiceByStripeID(stripeID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("stripe_id = ?", stripeID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) MarkInvoicePaid(id uint) error {
	return r.db.Model(&models.Invoice{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                 models.InvoiceStatusPaid,
		"paid":                   true,
		"amount_remaining_cents": 0,
	}).Error
}

func (r *gormRepository) HasNotificationSince(subscriptionID uint, notificationType string, anchor time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&models.SubscriptionNotification{}).
		Where("subscription_id = ? AND notification_type = ? AND created_at >= ?",
			subscriptionID, notificationType, anchor).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateNotification(n *models.SubscriptionNotification) error {
	return r.db.Create(n).Error
}
