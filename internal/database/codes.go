package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservas/internal/models"
)

const codeColumns = `code, owner_email, discount_amount, expires_at, used, used_at, used_by_lock_id, created_at`

func scanCode(row rowScanner) (*models.DiscountCode, error) {
	var (
		c                 models.DiscountCode
		expiresAt, usedAt sql.NullInt64
		usedBy            sql.NullString
		createdAt         int64
	)
	err := row.Scan(&c.Code, &c.OwnerEmail, &c.DiscountAmount, &expiresAt, &c.Used, &usedAt, &usedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = timePtr(expiresAt)
	c.UsedAt = timePtr(usedAt)
	c.UsedByLockID = usedBy.String
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CreateDiscountCode issues a new code. Codes are stored upper-case.
func (db *DB) CreateDiscountCode(ctx context.Context, c *models.DiscountCode) error {
	if c.DiscountAmount <= 0 {
		return fmt.Errorf("%w: discount must be positive", models.ErrInvalidAmount)
	}
	c.Code = normalizeCode(c.Code)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO discount_codes (code, owner_email, discount_amount, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		c.Code, strings.TrimSpace(c.OwnerEmail), c.DiscountAmount, nullMillis(c.ExpiresAt), millis(c.CreatedAt))
	return models.Storage("create code", err)
}

// GetDiscountCode returns the ledger row for code.
func (db *DB) GetDiscountCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	c, err := scanCode(db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM discount_codes WHERE code = ?`, normalizeCode(code)))
	return c, models.Storage("get code", err)
}

// VerifyCode previews a redemption without changing anything. The result
// may be stale by the time Redeem runs.
func (db *DB) VerifyCode(ctx context.Context, code, email string, at time.Time) (models.CodeCheck, error) {
	c, err := db.GetDiscountCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrCodeInvalid) {
			return models.CodeCheck{Reason: "code not found"}, nil
		}
		return models.CodeCheck{}, err
	}
	if err := checkRedeemable(c, email, at); err != nil {
		return models.CodeCheck{Reason: err.Error()}, nil
	}
	return models.CodeCheck{Valid: true, DiscountAmount: c.DiscountAmount}, nil
}

// Redeem atomically checks and spends code for email. lockID ties the
// redemption to a hold so that retries of the same confirmation get the same
// discount back instead of ErrCodeAlreadyUsed; it may be empty.
func (db *DB) Redeem(ctx context.Context, code, email, lockID string, at time.Time) (int64, error) {
	var amount int64
	err := db.InTx(ctx, "redeem code", func(tx *Tx) error {
		var err error
		amount, err = tx.Redeem(ctx, code, email, lockID, at)
		return err
	})
	return amount, err
}

// RestoreCode un-spends a code that lockID redeemed. It reports whether
// anything changed.
func (db *DB) RestoreCode(ctx context.Context, code, lockID string) (bool, error) {
	var restored bool
	err := db.InTx(ctx, "restore code", func(tx *Tx) error {
		var err error
		restored, err = tx.RestoreCode(ctx, code, lockID)
		return err
	})
	return restored, err
}

// Redeem runs the redemption inside the caller's transaction.
func (tx *Tx) Redeem(ctx context.Context, code, email, lockID string, at time.Time) (int64, error) {
	c, err := scanCode(tx.tx.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM discount_codes WHERE code = ?`, normalizeCode(code)))
	if err != nil {
		return 0, err
	}

	if c.Used {
		if lockID != "" && c.UsedByLockID == lockID {
			return c.DiscountAmount, nil
		}
		return 0, models.ErrCodeAlreadyUsed
	}
	if err := checkRedeemable(c, email, at); err != nil {
		return 0, err
	}

	res, err := tx.tx.ExecContext(ctx, `
		UPDATE discount_codes SET used = 1, used_at = ?, used_by_lock_id = ?
		WHERE code = ? AND used = 0`,
		millis(at), nullString(lockID), c.Code)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, models.ErrCodeAlreadyUsed
	}
	return c.DiscountAmount, nil
}

// RestoreCode clears the used flag when lockID is the redeemer.
func (tx *Tx) RestoreCode(ctx context.Context, code, lockID string) (bool, error) {
	if code == "" || lockID == "" {
		return false, nil
	}
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE discount_codes SET used = 0, used_at = NULL, used_by_lock_id = NULL
		WHERE code = ? AND used = 1 AND used_by_lock_id = ?`,
		normalizeCode(code), lockID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func checkRedeemable(c *models.DiscountCode, email string, at time.Time) error {
	if c.Used {
		return models.ErrCodeAlreadyUsed
	}
	if !sameEmail(c.OwnerEmail, email) {
		return models.ErrCodeEmailMismatch
	}
	if c.ExpiredAt(at) {
		return models.ErrCodeExpired
	}
	return nil
}
