package storage

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

const appointmentColumns = `id::text, patient_id, doctor_id, COALESCE(site_id, ''), start_time, end_time, status,
	motive, source, cancelled_at, created_at, updated_at`

type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

// InDoctorTx serializes writers of one doctor with a transaction-scoped advisory lock.
// The exclusion constraint on appointments remains the last line of defence.
func (s *PostgresStore) InDoctorTx(ctx context.Context, doctorID string, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID); err != nil {
			return err
		}
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
	return classify("doctor transaction", err)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Appointment{}, classifyLookup(id, err)
	}
	return appt, nil
}

func (s *PostgresStore) ListBooked(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listBooked(ctx, s.pool, doctorID, from, to)
}

func (s *PostgresStore) ListForDoctor(ctx context.Context, doctorID string, page model.Page) ([]model.Appointment, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, doctorID, page.Limit, page.Offset)
	return collect(rows, err)
}

func (s *PostgresStore) ListInRange(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, doctorID, from, to)
	return collect(rows, err)
}

func (s *PostgresStore) NextBooked(ctx context.Context, doctorID string, after time.Time) (model.Appointment, bool, error) {
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status = 'booked'
			AND start_time >= $2
		ORDER BY start_time ASC
		LIMIT 1
	`, doctorID, after))
	if IsNotFound(err) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, apperr.Storage("next booked appointment", err)
	}
	return appt, true, nil
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListBooked(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listBooked(ctx, t.tx, doctorID, from, to)
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Appointment{}, classifyLookup(id, err)
	}
	return appt, nil
}

func (t *pgTx) Insert(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, site_id, start_time, end_time, status, motive, source, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.SiteID, appt.StartTime, appt.EndTime, string(appt.Status),
		appt.Motive, appt.Source, appt.CancelledAt, appt.CreatedAt, appt.UpdatedAt)
	return classify("insert appointment", err)
}

func (t *pgTx) Update(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET site_id = NULLIF($2, ''),
			start_time = $3,
			end_time = $4,
			status = $5,
			cancelled_at = $6,
			updated_at = $7
		WHERE id = $1
	`, appt.ID, appt.SiteID, appt.StartTime, appt.EndTime, string(appt.Status), appt.CancelledAt, appt.UpdatedAt)
	if err != nil {
		return classify("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment %s not found", appt.ID)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return classify("append outbox event", t.outbox.Insert(ctx, t.tx, evt))
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listBooked(ctx context.Context, q querier, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status = 'booked'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, from, to)
	return collect(rows, err)
}

func collect(rows pgx.Rows, err error) ([]model.Appointment, error) {
	if err != nil {
		return nil, apperr.Storage("query appointments", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, apperr.Storage("scan appointment", err)
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, apperr.Storage("query appointments", rows.Err())
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var cancelledAt *time.Time
	if err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.DoctorID,
		&appt.SiteID,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.Motive,
		&appt.Source,
		&cancelledAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = st
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func classifyLookup(id string, err error) error {
	if IsNotFound(err) {
		return apperr.NotFound("appointment %s not found", id)
	}
	return apperr.Storage("load appointment", err)
}

// classify maps constraint violations to business rejections and everything else to storage failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) {
		return apperr.New(apperr.KindOverlap, "doctor already has an appointment in this interval")
	}
	return apperr.Storage(op, err)
}

// IsConflict reports an exclusion constraint violation (SQLSTATE 23P01).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
