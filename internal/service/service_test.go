package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reservas/internal/clock"
	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/events"
	"reservas/internal/models"
	"reservas/internal/payment"
	"reservas/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(payment.Result), args.Error(1)
}

func (m *mockGateway) Lookup(ctx context.Context, reference string, since time.Time) (payment.Result, error) {
	args := m.Called(ctx, reference, since)
	return args.Get(0).(payment.Result), args.Error(1)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db      *database.DB
	clock   *clock.Manual
	gateway *mockGateway
	locks   *LockService
	codes   *CodeService
	orch    *Orchestrator
	events  *recorder
}

type envOption func(*LockConfig, *OrchestratorConfig)

func withCodePolicy(policy string) envOption {
	return func(_ *LockConfig, oc *OrchestratorConfig) { oc.CodePolicy = policy }
}

func withPaymentTimeout(d time.Duration) envOption {
	return func(_ *LockConfig, oc *OrchestratorConfig) { oc.PaymentTimeout = d }
}

func withAcquireLimit(n int) envOption {
	return func(lc *LockConfig, _ *OrchestratorConfig) { lc.AcquireLimit = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "reservas.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.SyncCourts(context.Background(), []models.Court{
		{ID: 1, Name: "Cancha 1", HourlyPrice: 100000, IsActive: true},
	}))

	lockCfg := LockConfig{DefaultTTL: 10 * time.Minute, MaxTTL: 30 * time.Minute, AcquireWindow: time.Minute}
	orchCfg := OrchestratorConfig{
		Currency:          "clp",
		PaymentTimeout:    2 * time.Second,
		SafetyMargin:      5 * time.Second,
		CodePolicy:        config.CodePolicyRestore,
		ReconcileAttempts: 2,
		PendingGrace:      time.Minute,
	}
	for _, opt := range opts {
		opt(&lockCfg, &orchCfg)
	}

	rec := &recorder{}
	bus := events.NewEventBus(&logger)
	bus.SubscribeAll(rec.handle)

	clk := clock.NewManual(testNow)
	gw := new(mockGateway)
	return &testEnv{
		db:      db,
		clock:   clk,
		gateway: gw,
		locks:   NewLockService(db, repository.NewMemoryRateLimiter(), clk, bus, lockCfg, &logger),
		codes:   NewCodeService(db, clk, &logger),
		orch:    NewOrchestrator(db, gw, clk, bus, orchCfg, &logger),
		events:  rec,
	}
}

func mustSlot(t *testing.T, start, end string) models.Slot {
	t.Helper()
	s, err := models.NewSlot(1, "2025-06-01", start, end)
	require.NoError(t, err)
	return s
}

// hold acquires a slot and attaches Ana as the customer.
func (e *testEnv) hold(t *testing.T, start, end string) *models.SlotLock {
	t.Helper()
	ctx := context.Background()
	lock, err := e.locks.Acquire(ctx, mustSlot(t, start, end), "sess-ana", 0)
	require.NoError(t, err)
	require.NoError(t, e.locks.Attach(ctx, lock.ID, models.Customer{Name: "Ana", Email: "ana@example.com"}))
	return lock
}

func (e *testEnv) issue(t *testing.T, code string, amount int64) {
	t.Helper()
	require.NoError(t, e.codes.Issue(context.Background(), &models.DiscountCode{
		Code:           code,
		OwnerEmail:     "ana@example.com",
		DiscountAmount: amount,
	}))
}

func chargeFor(lockID string, amount int64) interface{} {
	return mock.MatchedBy(func(req payment.ChargeRequest) bool {
		return req.Reference == models.ReferenceForLock(lockID) && req.Amount == amount
	})
}

func succeeded(auth string) payment.Result {
	return payment.Result{Status: payment.StatusSucceeded, AuthorizationCode: auth}
}
