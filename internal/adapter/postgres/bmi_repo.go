package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"healthmate/internal/domain"
)

const bmiColumns = "id, user_id, weight_kg, height_cm, value, category, created_at"

func scanReading(row interface{ Scan(...any) error }) (domain.BMIReading, error) {
	var r domain.BMIReading
	var cat string
	err := row.Scan(&r.ID, &r.UserID, &r.WeightKg, &r.HeightCm, &r.Value, &cat, &r.CreatedAt)
	r.Category = domain.Category(cat)
	return r, err
}

// AddBMIReading inserts a new reading.
func (d *DB) AddBMIReading(ctx context.Context, r domain.BMIReading) (int64, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx,
		"INSERT INTO bmi_readings(user_id, weight_kg, height_cm, value, category, created_at) VALUES($1, $2, $3, $4, $5, $6) RETURNING id;",
		r.UserID, r.WeightKg, r.HeightCm, r.Value, string(r.Category), r.CreatedAt.UTC(),
	).Scan(&id)
	return id, err
}

// DeleteLatestBMIReading removes the user's most recent reading.
func (d *DB) DeleteLatestBMIReading(ctx context.Context, userID int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		"DELETE FROM bmi_readings WHERE id = (SELECT id FROM bmi_readings WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1);",
		userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListRecentBMIReadings returns the user's most recent readings up to limit.
func (d *DB) ListRecentBMIReadings(ctx context.Context, userID int64, limit int) ([]domain.BMIReading, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+bmiColumns+" FROM bmi_readings WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;", userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.BMIReading, 0, limit)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestBMIForLocalDay returns the user's latest reading for a local calendar day.
func (d *DB) LatestBMIForLocalDay(ctx context.Context, userID int64, localDay string) (*domain.BMIReading, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", localDay, time.Local)
	if err != nil {
		return nil, err
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	r, err := scanReading(d.sql.QueryRowContext(ctx,
		"SELECT "+bmiColumns+" FROM bmi_readings WHERE user_id=$1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at DESC LIMIT 1;",
		userID, dayStart.UTC(), dayEnd.UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
