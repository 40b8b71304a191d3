package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"reservas/internal/models"
)

const attemptColumns = `reference, lock_id, court_id, date, start_min, end_min,
	customer_name, customer_email, customer_phone, channel,
	gross_price, discount_code, discount_amount, net_price,
	commission_base, commission_tax, commission_total,
	status, authorization_code, failure_reason, created_at, updated_at`

func scanAttempt(row rowScanner) (*models.PaymentAttempt, error) {
	var (
		a                         models.PaymentAttempt
		date                      string
		phone, code, auth, reason sql.NullString
		createdAt, updatedAt      int64
	)
	err := row.Scan(&a.Reference, &a.LockID, &a.Slot.CourtID, &date, &a.Slot.Start, &a.Slot.End,
		&a.Customer.Name, &a.Customer.Email, &phone, &a.Channel,
		&a.GrossPrice, &code, &a.DiscountAmount, &a.NetPrice,
		&a.Commission.BaseAmount, &a.Commission.TaxAmount, &a.Commission.TotalAmount,
		&a.Status, &auth, &reason, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Slot.Date, err = dateFromKey(date); err != nil {
		return nil, err
	}
	a.Customer.Phone = phone.String
	a.DiscountCode = code.String
	a.AuthorizationCode = auth.String
	a.FailureReason = reason.String
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

// AttemptByReference loads an attempt or returns models.ErrAttemptNotFound.
func (tx *Tx) AttemptByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	return scanAttempt(tx.tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE reference = ?`, reference))
}

// AttemptByLock loads the attempt of a lock or returns models.ErrAttemptNotFound.
func (tx *Tx) AttemptByLock(ctx context.Context, lockID string) (*models.PaymentAttempt, error) {
	return scanAttempt(tx.tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE lock_id = ?`, lockID))
}

// InsertAttempt records a new attempt. There is at most one per lock. The
// payment token is not stored.
func (tx *Tx) InsertAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO payment_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Reference, a.LockID, a.Slot.CourtID, a.Slot.DateKey(), a.Slot.Start, a.Slot.End,
		a.Customer.Name, a.Customer.Email, nullString(a.Customer.Phone), string(a.Channel),
		a.GrossPrice, nullString(a.DiscountCode), a.DiscountAmount, a.NetPrice,
		a.Commission.BaseAmount, a.Commission.TaxAmount, a.Commission.TotalAmount,
		a.Status, nullString(a.AuthorizationCode), nullString(a.FailureReason),
		millis(a.CreatedAt), millis(a.UpdatedAt))
	return err
}

// SetAttemptStatus moves an attempt to status. Empty authCode or reason keep
// the stored values.
func (tx *Tx) SetAttemptStatus(ctx context.Context, reference, status, authCode, reason string, now time.Time) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE payment_attempts SET
			status = ?,
			authorization_code = COALESCE(?, authorization_code),
			failure_reason = COALESCE(?, failure_reason),
			updated_at = ?
		WHERE reference = ?`,
		status, nullString(authCode), nullString(reason), millis(now), reference)
	return err
}

// PromoteOutcome tells what Promote did.
type PromoteOutcome int

const (
	// Promoted means a new reservation was inserted.
	Promoted PromoteOutcome = iota
	// AlreadyPromoted means the lock had been promoted before.
	AlreadyPromoted
	// Orphaned means the hold was gone and the attempt is now orphaned.
	Orphaned
)

// Promote turns the attempt's lock into a confirmed reservation, deletes the
// lock and marks the attempt succeeded. If the lock is gone or expired the
// attempt is marked orphaned instead; the caller must still commit so the
// orphan is recorded.
func (tx *Tx) Promote(ctx context.Context, a *models.PaymentAttempt, authCode string, now time.Time) (*models.Reservation, PromoteOutcome, error) {
	if a.Status == models.AttemptOrphaned {
		return nil, Orphaned, nil
	}

	existing, err := tx.ReservationByLock(ctx, a.LockID)
	if err == nil {
		return existing, AlreadyPromoted, nil
	}
	if !errors.Is(err, models.ErrReservationNotFound) {
		return nil, 0, err
	}

	if _, err := tx.ActiveLock(ctx, a.LockID, now); err != nil {
		if !errors.Is(err, models.ErrLockExpired) && !errors.Is(err, models.ErrLockNotFound) {
			return nil, 0, err
		}
		if err := tx.SetAttemptStatus(ctx, a.Reference, models.AttemptOrphaned, authCode, "charged after lock expiry", now); err != nil {
			return nil, 0, err
		}
		if _, err := tx.DeleteLock(ctx, a.LockID); err != nil {
			return nil, 0, err
		}
		return nil, Orphaned, nil
	}

	res := &models.Reservation{
		LockID:            a.LockID,
		Slot:              a.Slot,
		Customer:          a.Customer,
		GrossPrice:        a.GrossPrice,
		DiscountCode:      a.DiscountCode,
		DiscountAmount:    a.DiscountAmount,
		NetPrice:          a.NetPrice,
		Commission:        a.Commission,
		Channel:           a.Channel,
		PaymentReference:  a.Reference,
		AuthorizationCode: authCode,
		Status:            models.StatusConfirmed,
		CreatedAt:         now.Truncate(time.Millisecond),
	}
	if err := tx.InsertReservation(ctx, res); err != nil {
		return nil, 0, err
	}
	if _, err := tx.DeleteLock(ctx, a.LockID); err != nil {
		return nil, 0, err
	}
	if err := tx.SetAttemptStatus(ctx, a.Reference, models.AttemptSucceeded, authCode, "", now); err != nil {
		return nil, 0, err
	}
	return res, Promoted, nil
}

// Abandon marks the attempt with a final failure status, releases its lock
// and, when restore is set, un-spends the discount code it redeemed.
func (tx *Tx) Abandon(ctx context.Context, a *models.PaymentAttempt, reason string, restore bool, now time.Time) (codeRestored bool, err error) {
	if err := tx.SetAttemptStatus(ctx, a.Reference, models.AttemptDeclined, "", reason, now); err != nil {
		return false, err
	}
	if _, err := tx.DeleteLock(ctx, a.LockID); err != nil {
		return false, err
	}
	if restore && a.DiscountCode != "" {
		return tx.RestoreCode(ctx, a.DiscountCode, a.LockID)
	}
	return false, nil
}

// PromoteAttempt commits Promote for reference. An orphaned outcome is
// committed and then reported as models.ErrPaymentAfterExpiry.
func (db *DB) PromoteAttempt(ctx context.Context, reference, authCode string, now time.Time) (*models.Reservation, PromoteOutcome, error) {
	var (
		res     *models.Reservation
		outcome PromoteOutcome
	)
	err := db.InTx(ctx, "promote attempt", func(tx *Tx) error {
		a, err := tx.AttemptByReference(ctx, reference)
		if err != nil {
			return err
		}
		res, outcome, err = tx.Promote(ctx, a, authCode, now)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if outcome == Orphaned {
		return nil, Orphaned, models.ErrPaymentAfterExpiry
	}
	return res, outcome, nil
}

// AbandonAttempt commits Abandon for reference. Attempts that already
// reached a final status are left untouched and abandoned is false.
func (db *DB) AbandonAttempt(ctx context.Context, reference, reason string, restore bool, now time.Time) (abandoned, codeRestored bool, err error) {
	err = db.InTx(ctx, "abandon attempt", func(tx *Tx) error {
		a, err := tx.AttemptByReference(ctx, reference)
		if err != nil {
			return err
		}
		if a.Final() {
			return nil
		}
		abandoned = true
		codeRestored, err = tx.Abandon(ctx, a, reason, restore, now)
		return err
	})
	return abandoned, codeRestored, err
}

// MarkAttempt sets status on reference in its own transaction.
func (db *DB) MarkAttempt(ctx context.Context, reference, status, reason string, now time.Time) error {
	return db.InTx(ctx, "mark attempt", func(tx *Tx) error {
		return tx.SetAttemptStatus(ctx, reference, status, "", reason, now)
	})
}

func (db *DB) GetAttempt(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	a, err := scanAttempt(db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE reference = ?`, reference))
	return a, models.Storage("get attempt", err)
}

// ListAttempts returns attempts in any of statuses last updated before
// updatedBefore. A zero updatedBefore disables the age filter.
func (db *DB) ListAttempts(ctx context.Context, statuses []string, updatedBefore time.Time) ([]models.PaymentAttempt, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE status IN (?` +
		strings.Repeat(", ?", len(statuses)-1) + `)`
	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	if !updatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, millis(updatedBefore))
	}
	query += ` ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Storage("list attempts", err)
	}
	defer rows.Close()

	var attempts []models.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, models.Storage("list attempts", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, models.Storage("list attempts", rows.Err())
}
