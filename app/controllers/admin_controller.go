package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/database"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
)

func newDunningEngine() *dunning.Engine {
	return dunning.NewEngineFromDB(
		database.GetDB(),
		gateway.NewWHMClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
		dunning.NewRedisLocker(cache.GetClient()),
	)
}

// HandleListSubscriptions returns a filtered page of subscriptions.
func HandleListSubscriptions(c *fiber.Ctx) error {
	db := database.GetDB()

	query := db.Model(&models.Subscription{})
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count subscriptions"})
	}

	var subs []models.Subscription
	if err := query.Order("id").Offset((page - 1) * perPage).Limit(perPage).Find(&subs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}

	return c.JSON(fiber.Map{
		"subscriptions": subs,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

// HandleListNotifications returns a filtered page of the notification ledger.
func HandleListNotifications(c *fiber.Ctx) error {
	db := database.GetDB()

	query := db.Model(&models.SubscriptionNotification{})
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if nt := strings.TrimSpace(c.Query("type")); nt != "" {
		query = query.Where("notification_type = ?", nt)
	}
	if subID, err := strconv.ParseUint(c.Query("subscription_id"), 10, 64); err == nil {
		query = query.Where("subscription_id = ?", subID)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count notifications"})
	}

	var notifications []models.SubscriptionNotification
	if err := query.Order("id DESC").Offset((page - 1) * perPage).Limit(perPage).Find(&notifications).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load notifications"})
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

// HandleGetSubscription returns one subscription with its invoices,
// notifications and audit trail.
func HandleGetSubscription(c *fiber.Ctx) error {
	db := database.GetDB()
	sub, ok := subscriptionFromParam(c, db)
	if !ok {
		return nil
	}

	var invoices []models.Invoice
	if err := db.Where("subscription_stripe_id = ?", sub.StripeID).
		Order("external_created_at").Find(&invoices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load invoices"})
	}

	var notifications []models.SubscriptionNotification
	if err := db.Where("subscription_id = ?", sub.ID).
		Order("created_at").Find(&notifications).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load notifications"})
	}

	var changes []models.SubscriptionChange
	if err := db.Where("subscription_id = ?", sub.ID).
		Order("detected_at desc").Limit(100).Find(&changes).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load change history"})
	}

	return c.JSON(fiber.Map{
		"subscription":  sub,
		"invoices":      invoices,
		"notifications": notifications,
		"changes":       changes,
	})
}

// CreateSubscriptionRequest is the manual-entry payload for subscriptions
// that exist outside the payment processor.
type CreateSubscriptionRequest struct {
	Reference     string            `json:"reference" validate:"required,min=3,max=191"`
	Kind          string            `json:"kind" validate:"oneof=sell buy"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	CustomerName  string            `json:"customer_name" validate:"max=191"`
	Currency      string            `json:"currency" validate:"omitempty,len=3"`
	AmountCents   int64             `json:"amount_cents" validate:"gte=0"`
	Data          map[string]string `json:"data"`
}

// HandleCreateSubscription registers a manual subscription. Manual entries
// never get billing side effects; the reference must not collide with a
// processor id.
func HandleCreateSubscription(c *fiber.Ctx) error {
	var req CreateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed JSON body"})
	}
	if req.Kind == "" {
		req.Kind = models.SubscriptionKindSell
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}
	if strings.HasPrefix(req.Reference, "sub_") {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "Manual references must not use the processor prefix"})
	}

	data := map[string]interface{}{}
	for k, v := range req.Data {
		data[k] = v
	}

	sub := models.Subscription{
		StripeID:      req.Reference,
		Kind:          req.Kind,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Status:        models.SubscriptionStatusActive,
		Currency:      strings.ToLower(req.Currency),
		AmountCents:   req.AmountCents,
		Data:          data,
	}
	if err := database.GetDB().Create(&sub).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "create_failed", "message": "Subscription could not be created (duplicate reference?)"})
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleInspectDunning returns the dunning decision for one subscription
// without executing it.
func HandleInspectDunning(c *fiber.Ctx) error {
	sub, ok := subscriptionFromParam(c, database.GetDB())
	if !ok {
		return nil
	}

	decision, err := newDunningEngine().Inspect(sub)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Decision evaluation failed"})
	}
	return c.JSON(fiber.Map{
		"subscription_id": sub.ID,
		"stripe_id":       sub.StripeID,
		"decision":        decision,
	})
}

// HandleForceSuspend runs the suspend orchestration for one subscription,
// bypassing the day-window checks but not the metadata consent flag.
func HandleForceSuspend(c *fiber.Ctx) error {
	db := database.GetDB()
	sub, ok := subscriptionFromParam(c, db)
	if !ok {
		return nil
	}
	if !sub.AutoSuspend() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "not_allowed", "message": "Subscription does not allow automatic suspension"})
	}
	if sub.Status == models.SubscriptionStatusPaused {
		return c.JSON(fiber.Map{"ok": true, "unchanged": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	repo := dunning.NewRepository(db)
	orch := dunning.NewOrchestrator(repo, gateway.NewWHMClientFromEnv(), gateway.NewStripeClientFromEnv())
	result, err := orch.Suspend(ctx, sub, "suspended by operator")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "suspend_failed", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "result": suspendResultMap(result)})
}

// HandleForceReactivate runs the reactivate orchestration for one
// subscription regardless of its unpaid count. Already-active subscriptions
// are not short-circuited: re-running the legs repairs a reactivation whose
// hosting or billing side failed the first time.
func HandleForceReactivate(c *fiber.Ctx) error {
	db := database.GetDB()
	sub, ok := subscriptionFromParam(c, db)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	repo := dunning.NewRepository(db)
	orch := dunning.NewOrchestrator(repo, gateway.NewWHMClientFromEnv(), gateway.NewStripeClientFromEnv())
	result, err := orch.Reactivate(ctx, sub)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reactivate_failed", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "result": suspendResultMap(result)})
}

// HandleRunDunning triggers one full dunning pass and returns its counters.
func HandleRunDunning(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := newDunningEngine().Run(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "dunning_failed", "message": err.Error()})
	}
	return c.JSON(result)
}

// subscriptionFromParam resolves the :id path parameter. On failure the
// response has already been written and ok is false.
func subscriptionFromParam(c *fiber.Ctx, db *gorm.DB) (*models.Subscription, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id", "message": "Subscription id must be numeric"})
		return nil, false
	}
	var sub models.Subscription
	if err := db.First(&sub, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Subscription not found"})
		} else {
			_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
		}
		return nil, false
	}
	return &sub, true
}

func suspendResultMap(r dunning.SuspendResult) fiber.Map {
	m := fiber.Map{
		"hosting_ok":      r.HostingOK,
		"hosting_skipped": r.HostingSkipped,
		"billing_ok":      r.BillingOK,
		"billing_skipped": r.BillingSkipped,
	}
	if r.HostingErr != nil {
		m["hosting_error"] = r.HostingErr.Error()
	}
	if r.BillingErr != nil {
		m["billing_error"] = r.BillingErr.Error()
	}
	return m
}
