// Package appointments runs the appointment lifecycle: booking, rescheduling, cancellation and
// attendance marking, each committed atomically per doctor together with its outbox event.
package appointments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultSource = "web"

type Options struct {
	Store     store.Store
	Validator *booking.Validator
	Slots     *availability.Calculator
	Patients  directory.Patients
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store     store.Store
	validator *booking.Validator
	slots     *availability.Calculator
	patients  directory.Patients
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Patients == nil {
		opts.Patients = directory.StaticPatients{}
	}
	return &Service{
		store:     opts.Store,
		validator: opts.Validator,
		slots:     opts.Slots,
		patients:  opts.Patients,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		tracer:    otel.Tracer("scheduling-service/appointments"),
		now:       opts.Now,
	}
}

type CreateInput struct {
	PatientID string
	DoctorID  string
	SiteID    string
	Motive    string
	Source    string
	Start     time.Time
	End       time.Time
}

func (s *Service) Create(ctx context.Context, p model.Principal, in CreateInput) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Create", trace.WithAttributes(attribute.String("doctor_id", in.DoctorID)))
	defer func() { s.finish(ctx, span, "create", err, "doctor_id", in.DoctorID, "appointment_id", appt.ID) }()

	if in.PatientID == "" || in.DoctorID == "" {
		return model.Appointment{}, apperr.Validation("patient_id and doctor_id are required")
	}
	if !in.End.After(in.Start) {
		return model.Appointment{}, apperr.Validation("end must be after start")
	}
	if !(p.IsAdmin() || p.IsDoctor(in.DoctorID) || p.IsPatient(in.PatientID)) {
		return model.Appointment{}, apperr.Forbidden("not allowed to book for this patient or doctor")
	}
	if in.Source == "" {
		in.Source = DefaultSource
	}

	now := s.now()
	req := booking.Request{
		DoctorID: in.DoctorID,
		SiteID:   in.SiteID,
		Start:    in.Start,
		End:      in.End,
		Action:   booking.ActionBook,
		Now:      now,
	}
	// Reject cheaply before queueing behind the doctor's lock; the decision that counts is
	// the one made inside the transaction.
	if err := s.validator.Validate(ctx, s.store, req); err != nil {
		return model.Appointment{}, err
	}

	err = s.store.InDoctorTx(ctx, in.DoctorID, func(ctx context.Context, tx store.Tx) error {
		if err := s.validator.Validate(ctx, tx, req); err != nil {
			return err
		}
		appt = model.Appointment{
			ID:        uuid.NewString(),
			PatientID: in.PatientID,
			DoctorID:  in.DoctorID,
			SiteID:    in.SiteID,
			StartTime: in.Start,
			EndTime:   in.End,
			Status:    model.StatusBooked,
			Motive:    in.Motive,
			Source:    in.Source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Insert(ctx, appt); err != nil {
			return err
		}
		return s.emit(ctx, tx, outbox.KindCreated, appt, nil, p, now)
	})
	if err != nil {
		return model.Appointment{}, apperr.Storage("create appointment", err)
	}
	return appt, nil
}

type RescheduleInput struct {
	Start time.Time
	End   time.Time
	// SiteID keeps the current site when empty.
	SiteID string
}

// Reschedule moves an appointment. Cancelled and no-show appointments come back as booked.
func (s *Service) Reschedule(ctx context.Context, p model.Principal, id string, in RescheduleInput) (model.Appointment, error) {
	if !in.End.After(in.Start) {
		return s.reject(ctx, "reschedule", id, apperr.Validation("end must be after start"))
	}
	return s.mutate(ctx, "reschedule", p, id, func(ctx context.Context, tx store.Tx, cur model.Appointment, now time.Time) (model.Appointment, outbox.Kind, error) {
		if !p.Owns(cur) {
			return cur, "", apperr.Forbidden("not allowed to reschedule this appointment")
		}
		next, ok := model.Next(cur.Status, model.TransitionReschedule)
		if !ok {
			return cur, "", apperr.Conflict("cannot reschedule a %s appointment", cur.Status)
		}
		site := in.SiteID
		if site == "" {
			site = cur.SiteID
		}
		err := s.validator.Validate(ctx, tx, booking.Request{
			DoctorID:  cur.DoctorID,
			SiteID:    site,
			Start:     in.Start,
			End:       in.End,
			Action:    booking.ActionReschedule,
			ExcludeID: cur.ID,
			Now:       now,
		})
		if err != nil {
			return cur, "", err
		}
		updated := cur
		updated.SiteID = site
		updated.StartTime = in.Start
		updated.EndTime = in.End
		updated.Status = next
		updated.CancelledAt = nil
		return updated, outbox.KindRescheduled, nil
	})
}

// Cancel cancels a booked appointment. Cancelling an already cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, p model.Principal, id string) (model.Appointment, error) {
	return s.mutate(ctx, "cancel", p, id, func(_ context.Context, _ store.Tx, cur model.Appointment, now time.Time) (model.Appointment, outbox.Kind, error) {
		if !p.Owns(cur) {
			return cur, "", apperr.Forbidden("not allowed to cancel this appointment")
		}
		if cur.Status == model.StatusCancelled {
			return cur, "", nil
		}
		next, ok := model.Next(cur.Status, model.TransitionCancel)
		if !ok {
			return cur, "", apperr.Conflict("cannot cancel a %s appointment", cur.Status)
		}
		if err := s.validator.CheckCancelLeadTime(p, cur, now); err != nil {
			return cur, "", err
		}
		updated := cur
		updated.Status = next
		updated.CancelledAt = &now
		return updated, outbox.KindCancelled, nil
	})
}

func (s *Service) MarkDone(ctx context.Context, p model.Principal, id string) (model.Appointment, error) {
	return s.mark(ctx, "mark_done", p, id, model.TransitionMarkDone, outbox.KindDone)
}

func (s *Service) MarkNoShow(ctx context.Context, p model.Principal, id string) (model.Appointment, error) {
	return s.mark(ctx, "mark_no_show", p, id, model.TransitionMarkNoShow, outbox.KindNoShow)
}

func (s *Service) mark(ctx context.Context, op string, p model.Principal, id string, t model.Transition, kind outbox.Kind) (model.Appointment, error) {
	return s.mutate(ctx, op, p, id, func(_ context.Context, _ store.Tx, cur model.Appointment, _ time.Time) (model.Appointment, outbox.Kind, error) {
		if !p.IsDoctor(cur.DoctorID) {
			return cur, "", apperr.Forbidden("only the appointment's doctor may record attendance")
		}
		next, ok := model.Next(cur.Status, t)
		if !ok {
			return cur, "", apperr.Conflict("appointment is %s, expected booked", cur.Status)
		}
		updated := cur
		updated.Status = next
		return updated, kind, nil
	})
}

// changeFunc decides the new state of cur. An empty kind means nothing changes.
type changeFunc func(ctx context.Context, tx store.Tx, cur model.Appointment, now time.Time) (model.Appointment, outbox.Kind, error)

// mutate locks the appointment's doctor, re-reads the row for update and applies change.
func (s *Service) mutate(ctx context.Context, op string, p model.Principal, id string, change changeFunc) (appt model.Appointment, err error) {
	var doctorID string
	ctx, span := s.tracer.Start(ctx, "appointments."+op, trace.WithAttributes(attribute.String("appointment_id", id)))
	defer func() { s.finish(ctx, span, op, err, "doctor_id", doctorID, "appointment_id", id) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
	}
	// The doctor never changes, so the lock key can be read outside the transaction.
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, apperr.Storage("load appointment", err)
	}
	doctorID = current.DoctorID

	err = s.store.InDoctorTx(ctx, doctorID, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		updated, kind, err := change(ctx, tx, cur, now)
		if err != nil {
			return err
		}
		if kind == "" {
			appt = cur
			return nil
		}
		updated.UpdatedAt = now
		appt = updated
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		return s.emit(ctx, tx, kind, updated, &cur, p, now)
	})
	if err != nil {
		return model.Appointment{}, apperr.Storage(op, err)
	}
	return appt, nil
}

func (s *Service) emit(ctx context.Context, tx store.Tx, kind outbox.Kind, appt model.Appointment, prev *model.Appointment, p model.Principal, now time.Time) error {
	evt, err := outbox.NewAppointmentEvent(kind, appt, prev, p, now)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, evt)
}

func (s *Service) reject(ctx context.Context, op, id string, err error) (model.Appointment, error) {
	_, span := s.tracer.Start(ctx, "appointments."+op)
	s.finish(ctx, span, op, err, "appointment_id", id)
	return model.Appointment{}, err
}

// finish ends span and records the outcome. Rejections log at info, failures at error.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error, attrs ...any) {
	defer span.End()
	s.metrics.ObserveOperation(op, err)
	if err == nil {
		return
	}
	kind := apperr.KindOf(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	attrs = append(attrs, "op", op, "kind", string(kind), "err", err)
	if apperr.Rejection(err) {
		s.logger.InfoContext(ctx, "appointment operation rejected", attrs...)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.ErrorContext(ctx, "appointment operation failed", attrs...)
}
