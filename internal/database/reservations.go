package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservas/internal/models"

	"github.com/google/uuid"
)

const reservationColumns = `id, code, lock_id, court_id, date, start_min, end_min,
	customer_name, customer_email, customer_phone,
	gross_price, discount_code, discount_amount, net_price,
	commission_base, commission_tax, commission_total,
	channel, payment_reference, authorization_code, status, created_at`

const codeAttempts = 5

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                 models.Reservation
		date              string
		phone, code, auth sql.NullString
		createdAt         int64
	)
	err := row.Scan(&r.ID, &r.Code, &r.LockID, &r.Slot.CourtID, &date, &r.Slot.Start, &r.Slot.End,
		&r.Customer.Name, &r.Customer.Email, &phone,
		&r.GrossPrice, &code, &r.DiscountAmount, &r.NetPrice,
		&r.Commission.BaseAmount, &r.Commission.TaxAmount, &r.Commission.TotalAmount,
		&r.Channel, &r.PaymentReference, &auth, &r.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Slot.Date, err = dateFromKey(date); err != nil {
		return nil, err
	}
	r.Customer.Phone = phone.String
	r.DiscountCode = code.String
	r.AuthorizationCode = auth.String
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

// newReservationCode returns a short human-facing code such as RSV-20250601-3F9A1C.
func newReservationCode(slot models.Slot) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("RSV-%s-%s", slot.Date.Format("20060102"), suffix)
}

// InsertReservation stores r and fills in its ID and Code. A code collision
// is retried with a fresh code; SQLite rolls back only the failed statement.
func (tx *Tx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	for i := 0; i < codeAttempts; i++ {
		code := newReservationCode(r.Slot)
		res, err := tx.tx.ExecContext(ctx, `
			INSERT INTO reservations (code, lock_id, court_id, date, start_min, end_min,
				customer_name, customer_email, customer_phone,
				gross_price, discount_code, discount_amount, net_price,
				commission_base, commission_tax, commission_total,
				channel, payment_reference, authorization_code, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			code, r.LockID, r.Slot.CourtID, r.Slot.DateKey(), r.Slot.Start, r.Slot.End,
			r.Customer.Name, r.Customer.Email, nullString(r.Customer.Phone),
			r.GrossPrice, nullString(r.DiscountCode), r.DiscountAmount, r.NetPrice,
			r.Commission.BaseAmount, r.Commission.TaxAmount, r.Commission.TotalAmount,
			string(r.Channel), r.PaymentReference, nullString(r.AuthorizationCode), r.Status,
			millis(r.CreatedAt), millis(r.CreatedAt))
		if isUniqueViolation(err) && strings.Contains(err.Error(), "reservations.code") {
			continue
		}
		if err != nil {
			return err
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		r.Code = code
		return nil
	}
	return fmt.Errorf("could not allocate a unique reservation code after %d attempts", codeAttempts)
}

// ReservationByLock returns the reservation promoted from lockID or
// models.ErrReservationNotFound.
func (tx *Tx) ReservationByLock(ctx context.Context, lockID string) (*models.Reservation, error) {
	return scanReservation(tx.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE lock_id = ?`, lockID))
}

func (db *DB) GetReservationByLock(ctx context.Context, lockID string) (*models.Reservation, error) {
	r, err := scanReservation(db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE lock_id = ?`, lockID))
	return r, models.Storage("get reservation", err)
}

func (db *DB) GetReservationByCode(ctx context.Context, code string) (*models.Reservation, error) {
	r, err := scanReservation(db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE code = ?`, strings.ToUpper(code)))
	return r, models.Storage("get reservation", err)
}

// ListReservations returns active reservations of a court on a day, ordered by start.
func (db *DB) ListReservations(ctx context.Context, courtID int64, date time.Time) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE court_id = ? AND date = ? AND status IN (?, ?)
		ORDER BY start_min`,
		courtID, date.Format(models.DateLayout), models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, models.Storage("list reservations", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, models.Storage("list reservations", err)
		}
		out = append(out, *r)
	}
	return out, models.Storage("list reservations", rows.Err())
}
