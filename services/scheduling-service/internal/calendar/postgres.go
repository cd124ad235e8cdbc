package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
)

// PostgresProvider reads doctor_calendar_settings and doctor_working_windows.
// A doctor without a settings row gets defaults; without window rows the calendar is empty.
type PostgresProvider struct {
	pool *db.Pool
}

func NewPostgresProvider(pool *db.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

func (p *PostgresProvider) Get(ctx context.Context, doctorID string) (Config, error) {
	cfg := Config{DoctorID: doctorID, DefaultDurationMinutes: DefaultDurationMinutes, AllowSameDay: true}
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(timezone, ''), default_duration_minutes, buffer_minutes, max_advance_days,
			allow_same_day, COALESCE(consultation_fee, 0)::float8
		FROM doctor_calendar_settings
		WHERE doctor_id = $1
	`, doctorID).Scan(
		&cfg.Timezone,
		&cfg.DefaultDurationMinutes,
		&cfg.BufferMinutes,
		&cfg.MaxAdvanceDays,
		&cfg.AllowSameDay,
		&cfg.ConsultationFee,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Config{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute, COALESCE(site_id, '')
		FROM doctor_working_windows
		WHERE doctor_id = $1
		ORDER BY weekday, start_minute
	`, doctorID)
	if err != nil {
		return Config{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var w Window
		var weekday int16
		if err := rows.Scan(&weekday, &w.StartMinute, &w.EndMinute, &w.SiteID); err != nil {
			return Config{}, err
		}
		w.Weekday = time.Weekday(weekday)
		cfg.Windows = append(cfg.Windows, w)
	}
	if rows.Err() != nil {
		return Config{}, rows.Err()
	}
	return cfg, nil
}
