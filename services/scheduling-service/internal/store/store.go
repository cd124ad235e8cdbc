// Package store declares the persistence contract of the scheduling core.
// Implementations live in the storage package.
package store

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// BusyReader lists booked appointments of a doctor intersecting [from, to), ordered by start.
type BusyReader interface {
	ListBooked(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
}

// Tx is a unit of work holding the doctor's write lock.
type Tx interface {
	BusyReader
	// GetForUpdate returns the appointment and locks it for the rest of the transaction.
	// A missing appointment yields an error matching apperr.ErrNotFound.
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	Update(ctx context.Context, appt model.Appointment) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	BusyReader
	// InDoctorTx runs fn while holding the doctor's exclusive write lock. Writes made through tx
	// become visible only when fn returns nil.
	InDoctorTx(ctx context.Context, doctorID string, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListForDoctor(ctx context.Context, doctorID string, page model.Page) ([]model.Appointment, error)
	// ListInRange returns appointments of any status starting in [from, to), ordered by start.
	ListInRange(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
	// NextBooked returns the first booked appointment starting at or after after.
	NextBooked(ctx context.Context, doctorID string, after time.Time) (model.Appointment, bool, error)
}
