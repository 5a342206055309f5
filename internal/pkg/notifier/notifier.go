package notifier

import (
	"fmt"
	"os"

	"github.com/gofiber/template/html/v2"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

// subjects maps a ledger notification type to its mail subject line.
var subjects = map[string]string{
	models.NotificationTypeWarning5Days: "Payment reminder: your service will be suspended in 5 days",
	models.NotificationTypeWarning2Days: "Final notice: your service will be suspended in 2 days",
	models.NotificationTypeSuspended:    "Your service has been suspended",
	models.NotificationTypeReactivated:  "Your service has been reactivated",
}

// SubjectFor returns the subject line for a notification type.
func SubjectFor(notificationType string) (string, error) {
	subject, ok := subjects[notificationType]
	if !ok {
		return "", fmt.Errorf("no mail subject for notification type %s", notificationType)
	}
	return subject, nil
}

// NewMailEngine loads the mail templates from the views/mails directory,
// searching the same candidate base paths the HTTP app uses so the engine
// works from the project root and from cmd/ binaries alike.
func NewMailEngine() (*html.Engine, error) {
	basePaths := []string{
		"./",
		"../../",
		"../../../",
	}
	for _, base := range basePaths {
		dir := base + "views/mails"
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		engine := html.New(dir, ".html")
		if err := engine.Load(); err != nil {
			return nil, fmt.Errorf("load mail templates: %w", err)
		}
		return engine, nil
	}
	return nil, fmt.Errorf("mail template directory views/mails not found")
}
