package notifier

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

func TestSubjectFor(t *testing.T) {
	for _, typ := range []string{
		models.NotificationTypeWarning5Days,
		models.NotificationTypeWarning2Days,
		models.NotificationTypeSuspended,
		models.NotificationTypeReactivated,
	} {
		subject, err := SubjectFor(typ)
		require.NoError(t, err, typ)
		assert.NotEmpty(t, subject, typ)
	}

	_, err := SubjectFor("something_else")
	require.Error(t, err)
}

func TestMailTemplatesRender(t *testing.T) {
	engine, err := NewMailEngine()
	require.NoError(t, err)

	binding := MailBinding{
		RecipientName:  "Ada",
		RecipientEmail: "ada@acme.com",
		SubscriptionID: "sub_123",
		Domain:         "acme.com",
		TrackURL:       "https://billing.example.com/t/tok.png",
		SupportEmail:   "soporte@example.com",
	}

	for _, typ := range []string{
		models.NotificationTypeWarning5Days,
		models.NotificationTypeWarning2Days,
		models.NotificationTypeSuspended,
		models.NotificationTypeReactivated,
	} {
		t.Run(typ, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, engine.Render(&buf, typ, binding))
			html := buf.String()
			assert.Contains(t, html, "Ada")
			assert.Contains(t, html, "acme.com")
			assert.Contains(t, html, binding.TrackURL)
			assert.Contains(t, html, binding.SupportEmail)
		})
	}
}

func TestMailTemplatesRenderWithoutOptionalFields(t *testing.T) {
	engine, err := NewMailEngine()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, engine.Render(&buf, models.NotificationTypeWarning5Days, MailBinding{
		TrackURL: "https://billing.example.com/t/tok.png",
	}))
	assert.Contains(t, buf.String(), "Hello there")
}
