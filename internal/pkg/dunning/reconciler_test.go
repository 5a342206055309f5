package dunning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diego-mascarenhas/stripe-sub000/app/models"
)

func newTestReconciler(repo *fakeRepo, hosting HostingGateway, billing BillingGateway) *Reconciler {
	r := NewReconciler(repo, NewOrchestrator(repo, hosting, billing), NewLocalLocker())
	r.now = func() time.Time { return evalNow }
	r.lockRetry = time.Millisecond
	return r
}

// busyLocker refuses the first busy acquisitions, invoking onBusy each time,
// then hands the lock out freely.
type busyLocker struct {
	busy   int
	onBusy func()
}

func (l *busyLocker) Acquire(_ context.Context, _ uint) (func(), bool) {
	if l.busy > 0 {
		l.busy--
		if l.onBusy != nil {
			l.onBusy()
		}
		return nil, false
	}
	return func() {}, true
}

func TestReconcilerPaymentReactivatesPaused(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(1, "sub_a", models.SubscriptionStatusPaused, true)}
	older := unpaidInvoice("in_old", 70)
	older.ID = 10
	older.SubscriptionStripeID = "sub_a"
	newer := unpaidInvoice("in_new", 50)
	newer.ID = 11
	newer.SubscriptionStripeID = "sub_a"
	repo.invoices["sub_a"] = []models.Invoice{older, newer}

	hosting := &fakeHosting{}
	billing := &fakeBilling{}
	rec := newTestReconciler(repo, hosting, billing)

	// Paying one of two invoices drops the count below the gate.
	err := rec.PaymentSucceeded(context.Background(), "in_old", "sub_a")
	require.NoError(t, err)

	assert.True(t, repo.invoices["sub_a"][0].Paid)
	assert.Equal(t, models.SubscriptionStatusActive, repo.statusChanges[1])
	assert.Equal(t, []string{"acme@srv1.example.com"}, hosting.unsuspended)
	assert.Equal(t, []string{"sub_a"}, billing.resumed)
}

func TestReconcilerPaymentOnActiveSubscriptionIsQuiet(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(1, "sub_a", models.SubscriptionStatusActive, true)}
	inv := unpaidInvoice("in_x", 10)
	inv.ID = 5
	inv.SubscriptionStripeID = "sub_a"
	repo.invoices["sub_a"] = []models.Invoice{inv}

	hosting := &fakeHosting{}
	rec := newTestReconciler(repo, hosting, &fakeBilling{})

	err := rec.PaymentSucceeded(context.Background(), "in_x", "sub_a")
	require.NoError(t, err)
	assert.True(t, repo.invoices["sub_a"][0].Paid)
	assert.Empty(t, hosting.unsuspended)
	assert.Empty(t, repo.statusChanges)
}

func TestReconcilerPaymentForUnknownInvoiceIsIgnored(t *testing.T) {
	repo := newFakeRepo()
	rec := newTestReconciler(repo, &fakeHosting{}, &fakeBilling{})

	err := rec.PaymentSucceeded(context.Background(), "in_missing", "")
	require.NoError(t, err)
}

func TestReconcilerSubscriptionUpdatedAppliesDerivedStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(4, "sub_d", models.SubscriptionStatusActive, true)}
	rec := newTestReconciler(repo, &fakeHosting{}, &fakeBilling{})

	err := rec.SubscriptionUpdated(context.Background(), SubscriptionEvent{
		StripeID:       "sub_d",
		RawStatus:      "active",
		PauseIndicator: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, repo.statusChanges[4])
}

func TestReconcilerUnpauseEventTriggersReactivation(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(4, "sub_d", models.SubscriptionStatusPaused, true)}
	repo.invoices["sub_d"] = []models.Invoice{unpaidInvoice("in_last", 70)}
	hosting := &fakeHosting{}
	billing := &fakeBilling{}
	rec := newTestReconciler(repo, hosting, billing)

	err := rec.SubscriptionUpdated(context.Background(), SubscriptionEvent{
		StripeID:       "sub_d",
		RawStatus:      "active",
		PauseIndicator: false,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, repo.statusChanges[4])
	assert.Equal(t, []string{"sub_d"}, billing.resumed)
	assert.Equal(t, []string{"acme@srv1.example.com"}, hosting.unsuspended)
}

func TestReconcilerUnpauseAboveGateKeepsPause(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(4, "sub_d", models.SubscriptionStatusPaused, true)}
	repo.invoices["sub_d"] = []models.Invoice{
		unpaidInvoice("in_a", 70),
		unpaidInvoice("in_b", 60),
	}
	billing := &fakeBilling{}
	rec := newTestReconciler(repo, &fakeHosting{}, billing)

	err := rec.SubscriptionUpdated(context.Background(), SubscriptionEvent{
		StripeID:       "sub_d",
		RawStatus:      "active",
		PauseIndicator: false,
	})
	require.NoError(t, err)
	// Still two unpaid invoices: the local status follows the provider, but
	// no reactivation side effects run.
	assert.Empty(t, billing.resumed)
	assert.Equal(t, models.SubscriptionStatusActive, repo.statusChanges[4])
}

func TestReconcilerSubscriptionDeleted(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(9, "sub_z", models.SubscriptionStatusActive, true)}
	rec := newTestReconciler(repo, &fakeHosting{}, &fakeBilling{})

	err := rec.SubscriptionDeleted(context.Background(), "sub_z")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.statusChanges[9])

	err = rec.SubscriptionDeleted(context.Background(), "sub_unknown")
	require.NoError(t, err)
}

func TestReconcilerPaymentWaitsOutBatchSuspend(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(3, "sub_c", models.SubscriptionStatusActive, true)}
	older := unpaidInvoice("in_1", 46)
	older.ID = 20
	older.SubscriptionStripeID = "sub_c"
	newer := unpaidInvoice("in_2", 16)
	newer.ID = 21
	newer.SubscriptionStripeID = "sub_c"
	repo.invoices["sub_c"] = []models.Invoice{older, newer}

	hosting := &fakeHosting{}
	billing := &fakeBilling{}

	// The lock is held by a batch pass that finishes its suspend while the
	// payment handler is waiting on it.
	locks := &busyLocker{busy: 1, onBusy: func() {
		repo.subs[0].Status = models.SubscriptionStatusPaused
		hosting.suspended = append(hosting.suspended, "acme@srv1.example.com")
	}}
	rec := NewReconciler(repo, NewOrchestrator(repo, hosting, billing), locks)
	rec.now = func() time.Time { return evalNow }
	rec.lockRetry = time.Millisecond

	err := rec.PaymentSucceeded(context.Background(), "in_1", "sub_c")
	require.NoError(t, err)

	// The payment wins: once the batch releases, the re-evaluation sees the
	// paused subscription below the gate and reactivates it.
	assert.True(t, repo.invoices["sub_c"][0].Paid)
	assert.Equal(t, models.SubscriptionStatusActive, repo.statusChanges[3])
	assert.Equal(t, []string{"acme@srv1.example.com"}, hosting.unsuspended)
	assert.Equal(t, []string{"sub_c"}, billing.resumed)
}

func TestReconcilerPaymentLockWaitHonorsContext(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []models.Subscription{hostedSub(3, "sub_c", models.SubscriptionStatusPaused, true)}
	inv := unpaidInvoice("in_1", 46)
	inv.ID = 20
	inv.SubscriptionStripeID = "sub_c"
	repo.invoices["sub_c"] = []models.Invoice{inv}

	rec := NewReconciler(repo, NewOrchestrator(repo, &fakeHosting{}, &fakeBilling{}), &busyLocker{busy: 1 << 20})
	rec.now = func() time.Time { return evalNow }
	rec.lockRetry = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// The delivery errors out so the provider retries it.
	err := rec.PaymentSucceeded(ctx, "in_1", "sub_c")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, repo.statusChanges)
}
