package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/database"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
)

const (
	webhookProviderStripe      = "stripe"
	webhookProviderMercadoPago = "mercadopago"
)

func newReconciler() *dunning.Reconciler {
	return dunning.NewReconcilerFromDB(
		database.GetDB(),
		gateway.NewWHMClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
		dunning.NewRedisLocker(cache.GetClient()),
	)
}

// HandleStripeWebhook ingests Stripe events. Every delivery is persisted to
// the webhook ledger before any processing, so replays and provider retries
// are answered without side effects.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, verifyErr := webhook.ConstructEvent(rawBody, signature, secret)
	signatureValid := verifyErr == nil

	eventID := ""
	eventType := ""
	if signatureValid {
		eventID = event.ID
		eventType = string(event.Type)
	}

	db := database.GetDB()
	created, stored, err := models.RecordWebhookEvent(db, webhookProviderStripe, eventID, eventType, string(rawBody), signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = stored.MarkProcessed(db, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	procErr := processStripeEvent(ctx, event)
	_ = stored.MarkProcessed(db, procErr)
	if procErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func processStripeEvent(ctx context.Context, event stripe.Event) error {
	rec := newReconciler()

	switch event.Type {
	case "invoice.payment_succeeded", "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("parse invoice payload: %w", err)
		}
		subID := ""
		if inv.Subscription != nil {
			subID = inv.Subscription.ID
		}
		return rec.PaymentSucceeded(ctx, inv.ID, subID)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parse subscription payload: %w", err)
		}
		return rec.SubscriptionUpdated(ctx, dunning.SubscriptionEvent{
			StripeID:         sub.ID,
			RawStatus:        string(sub.Status),
			PauseIndicator:   sub.PauseCollection != nil,
			CurrentPeriodEnd: unixTimePtr(sub.CurrentPeriodEnd),
		})

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parse subscription payload: %w", err)
		}
		return rec.SubscriptionDeleted(ctx, sub.ID)
	}

	// Everything else is stored for audit and acknowledged.
	return nil
}

// HandleMercadoPagoWebhook ingests MercadoPago payment notifications. The
// notification only carries the payment id, so the payment is fetched back
// from the API before it is routed into the settlement path.
func HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("x-signature"))
	requestID := strings.TrimSpace(c.Get("x-request-id"))
	dataID := strings.TrimSpace(c.Query("data.id"))
	topic := strings.TrimSpace(c.Query("type"))
	secret := env.GetEnv("MP_WEBHOOK_SECRET", "")

	signatureValid := gateway.VerifyMercadoPagoWebhookSignature(signature, requestID, dataID, secret)

	eventID := requestID
	if eventID == "" && dataID != "" {
		eventID = fmt.Sprintf("%s:%s", topic, dataID)
	}

	db := database.GetDB()
	created, stored, err := models.RecordWebhookEvent(db, webhookProviderMercadoPago, eventID, topic, string(rawBody), signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = stored.MarkProcessed(db, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if topic != "payment" || dataID == "" {
		_ = stored.MarkProcessed(db, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	procErr := processMercadoPagoPayment(ctx, dataID)
	_ = stored.MarkProcessed(db, procErr)
	if procErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func processMercadoPagoPayment(ctx context.Context, paymentID string) error {
	client := gateway.NewMercadoPagoClient(env.GetEnv("MP_ACCESS_TOKEN", ""))
	payment, err := client.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	if payment.Status != "approved" || payment.ExternalReference == "" {
		return nil
	}
	return newReconciler().PaymentSucceeded(ctx, payment.ExternalReference, "")
}

func unixTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
