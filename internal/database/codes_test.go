package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reservas/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCode(t *testing.T, db *DB, code, email string, amount int64, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, db.CreateDiscountCode(context.Background(), &models.DiscountCode{
		Code:           code,
		OwnerEmail:     email,
		DiscountAmount: amount,
		ExpiresAt:      expiresAt,
		CreatedAt:      testNow.Add(-time.Hour),
	}))
}

func TestRedeem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedCode(t, db, "promo10", "ana@example.com", 10000, nil)

	amount, err := db.Redeem(ctx, "PROMO10", "Ana@Example.com", "", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), amount)

	code, err := db.GetDiscountCode(ctx, "promo10")
	require.NoError(t, err)
	assert.True(t, code.Used)
	require.NotNil(t, code.UsedAt)
	assert.True(t, code.UsedAt.Equal(testNow))

	_, err = db.Redeem(ctx, "PROMO10", "ana@example.com", "", testNow)
	assert.ErrorIs(t, err, models.ErrCodeAlreadyUsed)
}

func TestRedeem_Rejections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	expiry := testNow.Add(time.Hour)
	seedCode(t, db, "OWNED", "ana@example.com", 5000, nil)
	seedCode(t, db, "DATED", "ana@example.com", 5000, &expiry)

	tests := []struct {
		name    string
		code    string
		email   string
		at      time.Time
		wantErr error
	}{
		{"unknown code", "NOPE", "ana@example.com", testNow, models.ErrCodeInvalid},
		{"other email", "OWNED", "bob@example.com", testNow, models.ErrCodeEmailMismatch},
		{"at expiry", "DATED", "ana@example.com", expiry, models.ErrCodeExpired},
		{"after expiry", "DATED", "ana@example.com", expiry.Add(time.Second), models.ErrCodeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Redeem(ctx, tt.code, tt.email, "", tt.at)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// rejected attempts leave the codes unspent
	amount, err := db.Redeem(ctx, "DATED", "ana@example.com", "", expiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amount)
}

func TestRedeem_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedCode(t, db, "ONCE", "ana@example.com", 7000, nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := db.Redeem(ctx, "ONCE", "ana@example.com", "", testNow)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrCodeAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, used)
}

func TestRedeem_SameLockIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedCode(t, db, "RETRY", "ana@example.com", 3000, nil)

	amount, err := db.Redeem(ctx, "RETRY", "ana@example.com", "lock-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), amount)

	amount, err = db.Redeem(ctx, "RETRY", "ana@example.com", "lock-1", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), amount)

	_, err = db.Redeem(ctx, "RETRY", "ana@example.com", "lock-2", testNow)
	assert.ErrorIs(t, err, models.ErrCodeAlreadyUsed)
}

func TestRestoreCode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedCode(t, db, "BACK", "ana@example.com", 3000, nil)

	_, err := db.Redeem(ctx, "BACK", "ana@example.com", "lock-1", testNow)
	require.NoError(t, err)

	restored, err := db.RestoreCode(ctx, "BACK", "lock-2")
	require.NoError(t, err)
	assert.False(t, restored, "only the redeeming lock may restore")

	restored, err = db.RestoreCode(ctx, "BACK", "lock-1")
	require.NoError(t, err)
	assert.True(t, restored)

	_, err = db.Redeem(ctx, "BACK", "ana@example.com", "lock-2", testNow)
	assert.NoError(t, err)
}

func TestVerifyCode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedCode(t, db, "LOOK", "ana@example.com", 2500, nil)

	check, err := db.VerifyCode(ctx, "look", "ana@example.com", testNow)
	require.NoError(t, err)
	assert.Equal(t, models.CodeCheck{Valid: true, DiscountAmount: 2500}, check)

	check, err = db.VerifyCode(ctx, "LOOK", "bob@example.com", testNow)
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, models.ErrCodeEmailMismatch.Error(), check.Reason)

	check, err = db.VerifyCode(ctx, "MISSING", "ana@example.com", testNow)
	require.NoError(t, err)
	assert.False(t, check.Valid)

	code, err := db.GetDiscountCode(ctx, "LOOK")
	require.NoError(t, err)
	assert.False(t, code.Used, "verify must not spend the code")
}

func TestCreateDiscountCode_Invalid(t *testing.T) {
	db := newTestDB(t)
	err := db.CreateDiscountCode(context.Background(), &models.DiscountCode{Code: "ZERO", OwnerEmail: "a@b.c"})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}
