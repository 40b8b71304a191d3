package service

import (
	"context"
	"testing"
	"time"

	"reservas/internal/events"
	"reservas/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCapsTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lock, err := env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "sess-ana", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(30*time.Minute), lock.ExpiresAt)

	lock, err = env.locks.Acquire(ctx, mustSlot(t, "12:00", "13:00"), "sess-ana", 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Minute), lock.ExpiresAt)
}

func TestAcquireValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "  ", 0)
	assert.ErrorIs(t, err, models.ErrInvalidSlot)

	_, err = env.locks.Acquire(ctx, models.Slot{CourtID: 1, Date: testNow, Start: 600, End: 600}, "sess-ana", 0)
	assert.ErrorIs(t, err, models.ErrInvalidSlot)

	other, err := models.NewSlot(99, "2025-06-01", "10:00", "11:00")
	require.NoError(t, err)
	_, err = env.locks.Acquire(ctx, other, "sess-ana", 0)
	assert.ErrorIs(t, err, models.ErrCourtNotFound)
}

func TestAcquireThrottlesSession(t *testing.T) {
	env := newTestEnv(t, withAcquireLimit(2))
	ctx := context.Background()

	_, err := env.locks.Acquire(ctx, mustSlot(t, "08:00", "09:00"), "sess-ana", 0)
	require.NoError(t, err)
	// a conflict still counts against the session
	_, err = env.locks.Acquire(ctx, mustSlot(t, "08:00", "09:00"), "sess-ana", 0)
	require.ErrorIs(t, err, models.ErrConflict)
	_, err = env.locks.Acquire(ctx, mustSlot(t, "09:00", "10:00"), "sess-ana", 0)
	assert.ErrorIs(t, err, models.ErrRateLimited)

	_, err = env.locks.Acquire(ctx, mustSlot(t, "09:00", "10:00"), "sess-bruno", 0)
	assert.NoError(t, err)
}

func TestAttachCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lock, err := env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "sess-ana", 0)
	require.NoError(t, err)

	err = env.locks.Attach(ctx, lock.ID, models.Customer{Name: "  ", Email: "ana@example.com"})
	assert.ErrorIs(t, err, models.ErrCustomerRequired)

	require.NoError(t, env.locks.Attach(ctx, lock.ID, models.Customer{Name: " Ana ", Email: "ana@example.com", Phone: "+56 9 1234 5678"}))
	got, err := env.locks.Get(ctx, lock.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Customer)
	assert.Equal(t, "Ana", got.Customer.Name)

	env.clock.Advance(10 * time.Minute)
	err = env.locks.Attach(ctx, lock.ID, models.Customer{Name: "Ana", Email: "ana@example.com"})
	assert.ErrorIs(t, err, models.ErrLockExpired)
	_, err = env.locks.Get(ctx, lock.ID)
	assert.ErrorIs(t, err, models.ErrLockExpired)
}

func TestReleasePublishesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lock, err := env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "sess-ana", 0)
	require.NoError(t, err)

	require.NoError(t, env.locks.Release(ctx, lock.ID))
	require.NoError(t, env.locks.Release(ctx, lock.ID))
	assert.Equal(t, 1, env.events.count(events.LockReleased))

	_, err = env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "sess-bruno", 0)
	assert.NoError(t, err)
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.locks.Acquire(ctx, mustSlot(t, "10:00", "11:00"), "sess-ana", 0)
	require.NoError(t, err)
	_, err = env.locks.Acquire(ctx, mustSlot(t, "11:00", "12:00"), "sess-ana", 20*time.Minute)
	require.NoError(t, err)

	env.clock.Advance(15 * time.Minute)
	n, err := env.locks.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = env.locks.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCodeServiceRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, "ANA10", 10000)

	check, err := env.codes.Verify(ctx, "ana10", "ANA@example.com")
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, int64(10000), check.DiscountAmount)

	amount, err := env.codes.Redeem(ctx, "ANA10", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), amount)

	_, err = env.codes.Redeem(ctx, "ANA10", "ana@example.com")
	assert.ErrorIs(t, err, models.ErrCodeAlreadyUsed)
}
