// Package directory resolves patient summaries referenced by id from appointments.
package directory

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
)

type PatientSummary struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// Patients looks up summaries in bulk. Unknown ids are absent from the result.
type Patients interface {
	Summaries(ctx context.Context, ids []string) (map[string]PatientSummary, error)
}

type StaticPatients map[string]PatientSummary

func (s StaticPatients) Summaries(_ context.Context, ids []string) (map[string]PatientSummary, error) {
	out := make(map[string]PatientSummary, len(ids))
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type PostgresPatients struct {
	pool *db.Pool
}

func NewPostgresPatients(pool *db.Pool) *PostgresPatients {
	return &PostgresPatients{pool: pool}
}

func (p *PostgresPatients) Summaries(ctx context.Context, ids []string) (map[string]PatientSummary, error) {
	out := make(map[string]PatientSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, full_name, COALESCE(phone, ''), COALESCE(email, ''), birth_date
		FROM patients
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s PatientSummary
		if err := rows.Scan(&s.ID, &s.FullName, &s.Phone, &s.Email, &s.BirthDate); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
