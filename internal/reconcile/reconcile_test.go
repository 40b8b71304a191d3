package reconcile

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"reservas/internal/models"
	"reservas/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeLister map[string][]models.PaymentAttempt

func (f fakeLister) ListAttempts(_ context.Context, statuses []string, _ time.Time) ([]models.PaymentAttempt, error) {
	var out []models.PaymentAttempt
	for _, s := range statuses {
		out = append(out, f[s]...)
	}
	return out, nil
}

func TestExportAttempts(t *testing.T) {
	slot, err := models.NewSlot(2, "2025-06-01", "18:00", "19:00")
	require.NoError(t, err)
	updated := time.Date(2025, 6, 1, 17, 40, 0, 0, time.UTC)
	lister := fakeLister{
		models.AttemptOrphaned: {{
			Reference: "rsv_lock-1", LockID: "lock-1", Slot: slot,
			Customer: models.Customer{Name: "Ana", Email: "ana@example.com"},
			NetPrice: 80000, AuthorizationCode: "AUTH-LATE", FailureReason: "charged after lock expiry",
			Status: models.AttemptOrphaned, UpdatedAt: updated,
		}},
		models.AttemptUnknown: {{
			Reference: "rsv_lock-2", LockID: "lock-2", Slot: slot,
			Customer: models.Customer{Name: "Bruno", Email: "bruno@example.com"},
			NetPrice: 80000, FailureReason: "gateway unreachable",
			Status: models.AttemptUnknown, UpdatedAt: updated,
		}},
	}

	path := filepath.Join(t.TempDir(), "reconciliation.xlsx")
	n, err := ExportAttempts(context.Background(), lister, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{models.AttemptOrphaned, models.AttemptUnknown}, f.GetSheetList())

	rows, err := f.GetRows(models.AttemptOrphaned)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, attemptColumns, rows[0])
	assert.Equal(t, []string{
		"rsv_lock-1", "lock-1", "2", "2025-06-01", "18:00", "19:00",
		"Ana", "ana@example.com", "80000", "AUTH-LATE", "charged after lock expiry", "2025-06-01T17:40:00Z",
	}, rows[1])

	rows, err = f.GetRows(models.AttemptUnknown)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "rsv_lock-2", rows[1][0])
}

type mockSweeper struct{ mock.Mock }

func (m *mockSweeper) Sweep(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) ReconcilePending(ctx context.Context) (service.ReconcileSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.ReconcileSummary), args.Error(1)
}

func TestWorkerRunOnce(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sweeper := new(mockSweeper)
	reconciler := new(mockReconciler)
	// a failed sweep does not skip reconciliation
	sweeper.On("Sweep", mock.Anything).Return(int64(0), errors.New("database is locked")).Once()
	reconciler.On("ReconcilePending", mock.Anything).Return(service.ReconcileSummary{Confirmed: 1, Orphaned: 1}, nil).Once()

	w := NewWorker(sweeper, reconciler, time.Minute, &logger)
	summary := w.RunOnce(context.Background())

	assert.Equal(t, service.ReconcileSummary{Confirmed: 1, Orphaned: 1}, summary)
	sweeper.AssertExpectations(t)
	reconciler.AssertExpectations(t)
}

func TestWorkerRunStopsWithContext(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sweeper := new(mockSweeper)
	reconciler := new(mockReconciler)
	ticked := make(chan struct{}, 1)
	sweeper.On("Sweep", mock.Anything).Return(int64(1), nil)
	reconciler.On("ReconcilePending", mock.Anything).Run(func(mock.Arguments) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}).Return(service.ReconcileSummary{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(sweeper, reconciler, 10*time.Millisecond, &logger).Run(ctx)
		close(done)
	}()

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
