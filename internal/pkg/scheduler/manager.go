package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/database"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/dunning"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/gateway"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/notifier"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/syncer"
)

const (
	defaultSyncInterval     = 6 * time.Hour
	defaultDunningInterval  = 24 * time.Hour
	defaultDispatchInterval = 1 * time.Minute

	dispatchBatchSize = 50
	paymentLookback   = 72 * time.Hour
)

// Manager owns the background tickers: provider sync, the dunning pass and
// the mail dispatcher.
type Manager struct {
	syncTicker     *time.Ticker
	dunningTicker  *time.Ticker
	dispatchTicker *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global scheduler (singleton).
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// Start launches the background workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background tasks")

	m.syncTicker = time.NewTicker(intervalFromEnv("SYNC_INTERVAL_HOURS", defaultSyncInterval, time.Hour))
	m.wg.Add(1)
	go m.syncWorker()

	m.dunningTicker = time.NewTicker(intervalFromEnv("DUNNING_INTERVAL_HOURS", defaultDunningInterval, time.Hour))
	m.wg.Add(1)
	go m.dunningWorker()

	m.dispatchTicker = time.NewTicker(defaultDispatchInterval)
	m.wg.Add(1)
	go m.dispatchWorker()

	log.Info("[Scheduler] Started successfully")
}

// Stop stops the background workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background tasks...")

	if m.syncTicker != nil {
		m.syncTicker.Stop()
	}
	if m.dunningTicker != nil {
		m.dunningTicker.Stop()
	}
	if m.dispatchTicker != nil {
		m.dispatchTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

func (m *Manager) syncWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Sync worker stopping")
			return
		case <-m.syncTicker.C:
			if err := m.RunSyncOnce(context.Background()); err != nil {
				log.Errorf("[Scheduler] Sync pass error: %v", err)
			}
		}
	}
}

func (m *Manager) dunningWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Dunning worker stopping")
			return
		case <-m.dunningTicker.C:
			if _, err := m.RunDunningOnce(context.Background()); err != nil {
				log.Errorf("[Scheduler] Dunning pass error: %v", err)
			}
		}
	}
}

func (m *Manager) dispatchWorker() {
	defer m.wg.Done()
	engine, err := notifier.NewMailEngine()
	if err != nil {
		log.Errorf("[Scheduler] Mail dispatcher disabled: %v", err)
		return
	}
	dispatcher := notifier.NewDispatcher(database.GetDB(), engine)
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Dispatch worker stopping")
			return
		case <-m.dispatchTicker.C:
			if _, err := dispatcher.DispatchPending(dispatchBatchSize); err != nil {
				log.Errorf("[Scheduler] Dispatch error: %v", err)
			}
		}
	}
}

// RunSyncOnce executes one full provider import: subscriptions, invoices,
// credit notes and recent payments.
func (m *Manager) RunSyncOnce(ctx context.Context) error {
	db := database.GetDB()
	locks := dunning.NewRedisLocker(cache.GetClient())
	rec := dunning.NewReconcilerFromDB(db, gateway.NewWHMClientFromEnv(), gateway.NewStripeClientFromEnv(), locks)

	var payments syncer.PaymentSource
	if token := env.GetEnv("MP_ACCESS_TOKEN", ""); token != "" {
		payments = gateway.NewMercadoPagoClient(token)
	}

	s := syncer.New(db, gateway.NewStripeClientFromEnv(), payments, gateway.NewRatesClientFromEnv(), rec)

	if _, err := s.SyncSubscriptions(ctx); err != nil {
		return err
	}
	if _, err := s.SyncInvoices(ctx); err != nil {
		return err
	}
	if _, err := s.SyncCreditNotes(ctx); err != nil {
		return err
	}
	if payments != nil {
		if _, err := s.SyncPayments(ctx, time.Now().Add(-paymentLookback)); err != nil {
			return err
		}
	}
	return nil
}

// RunDunningOnce executes one dunning pass over all eligible subscriptions.
func (m *Manager) RunDunningOnce(ctx context.Context) (dunning.Result, error) {
	engine := dunning.NewEngineFromDB(
		database.GetDB(),
		gateway.NewWHMClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
		dunning.NewRedisLocker(cache.GetClient()),
	)
	return engine.Run(ctx)
}

func intervalFromEnv(key string, fallback, unit time.Duration) time.Duration {
	if v := env.GetEnvAsInt(key, 0); v > 0 {
		return time.Duration(v) * unit
	}
	return fallback
}
