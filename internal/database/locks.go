package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reservas/internal/models"

	"github.com/google/uuid"
)

const lockColumns = `id, court_id, date, start_min, end_min, owner_session_id,
	customer_name, customer_email, customer_phone, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(row rowScanner) (*models.SlotLock, error) {
	var (
		lock                 models.SlotLock
		date                 string
		name, email, phone   sql.NullString
		expiresAt, createdAt int64
	)
	err := row.Scan(&lock.ID, &lock.Slot.CourtID, &date, &lock.Slot.Start, &lock.Slot.End,
		&lock.OwnerSessionID, &name, &email, &phone, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if lock.Slot.Date, err = dateFromKey(date); err != nil {
		return nil, err
	}
	if name.Valid || email.Valid {
		lock.Customer = &models.Customer{Name: name.String, Email: email.String, Phone: phone.String}
	}
	lock.ExpiresAt = fromMillis(expiresAt)
	lock.CreatedAt = fromMillis(createdAt)
	return &lock, nil
}

// AcquireLock places a hold on slot for ttl unless an unexpired lock or an
// active reservation overlaps it. Of any number of concurrent overlapping
// calls at most one succeeds; the rest get models.ErrConflict.
func (db *DB) AcquireLock(ctx context.Context, slot models.Slot, sessionID string, ttl time.Duration, now time.Time) (*models.SlotLock, error) {
	if err := slot.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", models.ErrInvalidSlot)
	}

	now = now.Truncate(time.Millisecond)
	lock := &models.SlotLock{
		ID:             uuid.NewString(),
		Slot:           slot,
		OwnerSessionID: sessionID,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	err := db.InTx(ctx, "acquire lock", func(tx *Tx) error {
		court, err := tx.Court(ctx, slot.CourtID)
		if err != nil {
			return err
		}
		if !court.IsActive {
			return models.ErrCourtNotFound
		}
		if err := tx.ensureSlotFree(ctx, slot, now); err != nil {
			return err
		}
		if _, err := tx.deleteExpiredLocksOn(ctx, slot, now); err != nil {
			return err
		}
		return tx.InsertLock(ctx, lock)
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// AttachCustomer stores contact details on an active lock.
func (db *DB) AttachCustomer(ctx context.Context, lockID string, customer models.Customer, now time.Time) error {
	return db.InTx(ctx, "attach customer", func(tx *Tx) error {
		if _, err := tx.ActiveLock(ctx, lockID, now); err != nil {
			return err
		}
		_, err := tx.tx.ExecContext(ctx, `
			UPDATE slot_locks SET customer_name = ?, customer_email = ?, customer_phone = ?
			WHERE id = ?`,
			customer.Name, customer.Email, nullString(customer.Phone), lockID)
		return err
	})
}

// GetLock returns the lock row regardless of expiry.
func (db *DB) GetLock(ctx context.Context, lockID string) (*models.SlotLock, error) {
	row := db.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM slot_locks WHERE id = ?`, lockID)
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrLockNotFound
	}
	if err != nil {
		return nil, models.Storage("get lock", err)
	}
	return lock, nil
}

// ReleaseLock removes a lock. Releasing a missing lock is a no-op; the result
// reports whether a row was removed. A lock whose charge is not settled yet
// (pending, unknown, or succeeded but not promoted) is kept and
// ErrPaymentInProgress is returned.
func (db *DB) ReleaseLock(ctx context.Context, lockID string) (bool, error) {
	var released bool
	err := db.InTx(ctx, "release lock", func(tx *Tx) error {
		a, err := tx.AttemptByLock(ctx, lockID)
		switch {
		case err == nil && holdsLock(a):
			return models.ErrPaymentInProgress
		case err != nil && !errors.Is(err, models.ErrAttemptNotFound):
			return err
		}
		released, err = tx.DeleteLock(ctx, lockID)
		return err
	})
	return released, err
}

func holdsLock(a *models.PaymentAttempt) bool {
	switch a.Status {
	case models.AttemptPending, models.AttemptUnknown, models.AttemptSucceeded:
		return true
	}
	return false
}

// SweepExpiredLocks reclaims storage held by expired locks. Expired locks are
// already invisible to every check, so this never changes availability.
func (db *DB) SweepExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := db.InTx(ctx, "sweep locks", func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `DELETE FROM slot_locks WHERE expires_at <= ?`, millis(now))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// CountActiveLocks is used by the lock gauge.
func (db *DB) CountActiveLocks(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM slot_locks WHERE expires_at > ?`, millis(now)).Scan(&n)
	if err != nil {
		return 0, models.Storage("count locks", err)
	}
	return n, nil
}

// ActiveLock returns the lock if it exists and has not expired at now.
func (tx *Tx) ActiveLock(ctx context.Context, lockID string, now time.Time) (*models.SlotLock, error) {
	lock, err := tx.LockByID(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.ExpiredAt(now) {
		return nil, models.ErrLockExpired
	}
	return lock, nil
}

// LockByID returns the lock row regardless of expiry.
func (tx *Tx) LockByID(ctx context.Context, lockID string) (*models.SlotLock, error) {
	row := tx.tx.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM slot_locks WHERE id = ?`, lockID)
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrLockNotFound
	}
	return lock, err
}

func (tx *Tx) InsertLock(ctx context.Context, lock *models.SlotLock) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO slot_locks (id, court_id, date, start_min, end_min, owner_session_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lock.ID, lock.Slot.CourtID, lock.Slot.DateKey(), lock.Slot.Start, lock.Slot.End,
		lock.OwnerSessionID, millis(lock.ExpiresAt), millis(lock.CreatedAt))
	return err
}

// DeleteLock removes the lock row if present.
func (tx *Tx) DeleteLock(ctx context.Context, lockID string) (bool, error) {
	res, err := tx.tx.ExecContext(ctx, `DELETE FROM slot_locks WHERE id = ?`, lockID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ensureSlotFree fails with ErrConflict when an unexpired lock or a pending or
// confirmed reservation overlaps slot: [a,b) and [c,d) overlap iff a < d && c < b.
func (tx *Tx) ensureSlotFree(ctx context.Context, slot models.Slot, now time.Time) error {
	var id string
	err := tx.tx.QueryRowContext(ctx, `
		SELECT id FROM slot_locks
		WHERE court_id = ? AND date = ? AND start_min < ? AND end_min > ? AND expires_at > ?
		LIMIT 1`,
		slot.CourtID, slot.DateKey(), slot.End, slot.Start, millis(now)).Scan(&id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s is held", models.ErrConflict, slot)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	var code string
	err = tx.tx.QueryRowContext(ctx, `
		SELECT code FROM reservations
		WHERE court_id = ? AND date = ? AND start_min < ? AND end_min > ? AND status IN (?, ?)
		LIMIT 1`,
		slot.CourtID, slot.DateKey(), slot.End, slot.Start,
		models.StatusPending, models.StatusConfirmed).Scan(&code)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s is booked", models.ErrConflict, slot)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	return nil
}

func (tx *Tx) deleteExpiredLocksOn(ctx context.Context, slot models.Slot, now time.Time) (int64, error) {
	res, err := tx.tx.ExecContext(ctx,
		`DELETE FROM slot_locks WHERE court_id = ? AND date = ? AND expires_at <= ?`,
		slot.CourtID, slot.DateKey(), millis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
