package dunning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

func TestOrchestratorSuspendSkipsHostingWithoutMetadata(t *testing.T) {
	repo := newFakeRepo()
	sub := models.Subscription{ID: 1, StripeID: "sub_x", Status: models.SubscriptionStatusActive}
	repo.subs = []models.Subscription{sub}
	hosting := &fakeHosting{}
	billing := &fakeBilling{}
	orch := NewOrchestrator(repo, hosting, billing)

	res, err := orch.Suspend(context.Background(), &sub, "unpaid")
	require.NoError(t, err)
	assert.True(t, res.HostingSkipped)
	assert.True(t, res.BillingOK)
	assert.Empty(t, hosting.suspended)
	assert.Equal(t, models.SubscriptionStatusPaused, repo.statusChanges[1])
	assert.Equal(t, models.SubscriptionStatusPaused, sub.Status)
}

func TestOrchestratorSuspendSkipsBillingForManualSubscription(t *testing.T) {
	repo := newFakeRepo()
	sub := hostedSub(2, "manual-acme", models.SubscriptionStatusActive, true)
	repo.subs = []models.Subscription{sub}
	hosting := &fakeHosting{}
	billing := &fakeBilling{}
	orch := NewOrchestrator(repo, hosting, billing)

	res, err := orch.Suspend(context.Background(), &sub, "unpaid")
	require.NoError(t, err)
	assert.True(t, res.HostingOK)
	assert.True(t, res.BillingSkipped)
	assert.Empty(t, billing.paused)
	assert.Equal(t, models.SubscriptionStatusPaused, repo.statusChanges[2])
}

func TestOrchestratorSuspendReportsBothLegFailures(t *testing.T) {
	repo := newFakeRepo()
	sub := hostedSub(3, "sub_y", models.SubscriptionStatusActive, true)
	repo.subs = []models.Subscription{sub}
	hosting := &fakeHosting{err: errors.New("whm down")}
	billing := &fakeBilling{err: errors.New("stripe down")}
	orch := NewOrchestrator(repo, hosting, billing)

	res, err := orch.Suspend(context.Background(), &sub, "unpaid")
	require.NoError(t, err)
	assert.Error(t, res.HostingErr)
	assert.Error(t, res.BillingErr)
	// Local status still advances: externals reconcile later.
	assert.Equal(t, models.SubscriptionStatusPaused, repo.statusChanges[3])
}

func TestOrchestratorReactivateRecordsLedgerRow(t *testing.T) {
	repo := newFakeRepo()
	sub := hostedSub(4, "sub_w", models.SubscriptionStatusPaused, true)
	repo.subs = []models.Subscription{sub}
	orch := NewOrchestrator(repo, &fakeHosting{}, &fakeBilling{})

	res, err := orch.Reactivate(context.Background(), &sub)
	require.NoError(t, err)
	assert.True(t, res.HostingOK)
	assert.True(t, res.BillingOK)
	assert.Equal(t, models.SubscriptionStatusActive, repo.statusChanges[4])
	require.Len(t, repo.notificationsOfType(models.NotificationTypeReactivated), 1)
	assert.Equal(t, "billing@acme.com", repo.notifications[0].RecipientEmail)
}

func TestOrchestratorReactivateRepairsActiveSubscription(t *testing.T) {
	repo := newFakeRepo()
	// Locally active, but the hosting leg failed during an earlier
	// reactivation and the account is still suspended upstream.
	sub := hostedSub(5, "sub_r", models.SubscriptionStatusActive, true)
	repo.subs = []models.Subscription{sub}
	hosting := &fakeHosting{}
	billing := &fakeBilling{}
	orch := NewOrchestrator(repo, hosting, billing)

	res, err := orch.Reactivate(context.Background(), &sub)
	require.NoError(t, err)
	// Both legs run again regardless of the local status.
	assert.True(t, res.HostingOK)
	assert.True(t, res.BillingOK)
	assert.Equal(t, []string{"acme@srv1.example.com"}, hosting.unsuspended)
	assert.Equal(t, []string{"sub_r"}, billing.resumed)
}
