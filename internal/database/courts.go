package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"reservas/internal/models"
)

// Court returns the pricing view of a court.
func (tx *Tx) Court(ctx context.Context, id int64) (*models.Court, error) {
	return scanCourt(tx.tx.QueryRowContext(ctx,
		`SELECT id, name, hourly_price, is_active FROM courts WHERE id = ?`, id))
}

func (db *DB) GetCourt(ctx context.Context, id int64) (*models.Court, error) {
	court, err := scanCourt(db.QueryRowContext(ctx,
		`SELECT id, name, hourly_price, is_active FROM courts WHERE id = ?`, id))
	return court, models.Storage("get court", err)
}

func scanCourt(row rowScanner) (*models.Court, error) {
	var c models.Court
	err := row.Scan(&c.ID, &c.Name, &c.HourlyPrice, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCourtNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SyncCourts upserts the court catalog. The catalog is owned elsewhere; this
// only mirrors the fields pricing needs.
func (db *DB) SyncCourts(ctx context.Context, courts []models.Court) error {
	now := millis(time.Now())
	return db.InTx(ctx, "sync courts", func(tx *Tx) error {
		for _, c := range courts {
			_, err := tx.tx.ExecContext(ctx, `
				INSERT INTO courts (id, name, hourly_price, is_active, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					hourly_price = excluded.hourly_price,
					is_active = excluded.is_active,
					updated_at = excluded.updated_at`,
				c.ID, c.Name, c.HourlyPrice, c.IsActive, now, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) ListCourts(ctx context.Context) ([]models.Court, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, hourly_price, is_active FROM courts ORDER BY id`)
	if err != nil {
		return nil, models.Storage("list courts", err)
	}
	defer rows.Close()

	var courts []models.Court
	for rows.Next() {
		c, err := scanCourt(rows)
		if err != nil {
			return nil, models.Storage("list courts", err)
		}
		courts = append(courts, *c)
	}
	return courts, models.Storage("list courts", rows.Err())
}
