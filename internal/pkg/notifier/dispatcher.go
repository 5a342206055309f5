package notifier

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/mail"
)

// Renderer is the subset of the fiber views engine the dispatcher needs.
type Renderer interface {
	Render(w io.Writer, name string, binding interface{}, layout ...string) error
}

// SendFunc delivers one rendered mail.
type SendFunc func(to, subject, body string) error

// MailBinding is the template context for every dunning mail.
type MailBinding struct {
	RecipientName  string
	RecipientEmail string
	SubscriptionID string
	Domain         string
	TrackURL       string
	SupportEmail   string
}

// Dispatcher delivers pending ledger rows. Delivery failures are recorded on
// the row; the row keeps its place in the incident ledger either way.
type Dispatcher struct {
	db     *gorm.DB
	views  Renderer
	send   SendFunc
	now    func() time.Time
	public string
}

// NewDispatcher wires a dispatcher around the default SMTP sender.
func NewDispatcher(db *gorm.DB, views Renderer) *Dispatcher {
	return &Dispatcher{
		db:     db,
		views:  views,
		send:   mail.SendMail,
		now:    time.Now,
		public: env.GetEnv("PUBLIC_URL", "http://localhost:4000"),
	}
}

// DispatchPending sends due pending notifications, oldest first, up to limit.
// It returns the number delivered; per-row failures are logged and counted on
// the row, never fatal to the pass.
func (d *Dispatcher) DispatchPending(limit int) (int, error) {
	var pending []models.SubscriptionNotification
	if err := d.db.
		Where("status = ? AND scheduled_at <= ?", models.NotificationStatusPending, d.now()).
		Order("scheduled_at").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	sent := 0
	for i := range pending {
		n := &pending[i]
		if err := d.dispatchOne(n); err != nil {
			log.Errorf("[Notifier] notification %d (%s): %v", n.ID, n.NotificationType, err)
			if markErr := n.MarkFailed(d.db, err); markErr != nil {
				log.Errorf("[Notifier] mark failed for notification %d: %v", n.ID, markErr)
			}
			continue
		}
		sent++
	}
	if len(pending) > 0 {
		log.Infof("[Notifier] dispatched %d/%d pending notifications", sent, len(pending))
	}
	return sent, nil
}

func (d *Dispatcher) dispatchOne(n *models.SubscriptionNotification) error {
	if n.RecipientEmail == "" {
		return fmt.Errorf("no recipient email")
	}
	subject, err := SubjectFor(n.NotificationType)
	if err != nil {
		return err
	}

	var sub models.Subscription
	if err := d.db.First(&sub, n.SubscriptionID).Error; err != nil {
		return fmt.Errorf("load subscription %d: %w", n.SubscriptionID, err)
	}

	hosting, _ := sub.Hosting()
	binding := MailBinding{
		RecipientName:  n.RecipientName,
		RecipientEmail: n.RecipientEmail,
		SubscriptionID: sub.StripeID,
		Domain:         hosting.Domain,
		TrackURL:       fmt.Sprintf("%s/t/%s.png", d.public, n.TrackToken),
		SupportEmail:   env.GetEnv("SUPPORT_EMAIL", "soporte@example.com"),
	}

	var buf bytes.Buffer
	if err := d.views.Render(&buf, n.NotificationType, binding); err != nil {
		return fmt.Errorf("render %s: %w", n.NotificationType, err)
	}
	body := buf.String()

	if err := d.send(n.RecipientEmail, subject, body); err != nil {
		return err
	}
	return n.MarkSent(d.db, body, d.now())
}
