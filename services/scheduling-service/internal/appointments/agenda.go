package appointments

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type AgendaItem struct {
	Appointment model.Appointment
	Patient     *directory.PatientSummary
}

type AgendaDay struct {
	// Date is the local calendar day, YYYY-MM-DD.
	Date  string
	Items []AgendaItem
}

type WeeklyAgenda struct {
	DoctorID string
	Days     []AgendaDay
}

func (s *Service) ListForDoctor(ctx context.Context, p model.Principal, doctorID string, page model.Page) ([]model.Appointment, error) {
	if !p.CanViewCalendar(doctorID) {
		return nil, apperr.Forbidden("not allowed to view this doctor's appointments")
	}
	appts, err := s.store.ListForDoctor(ctx, doctorID, page.Normalize())
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	return appts, nil
}

// DailyAgenda returns every appointment starting on the doctor's local day, with patient summaries.
func (s *Service) DailyAgenda(ctx context.Context, p model.Principal, doctorID string, date time.Time) (AgendaDay, error) {
	week, err := s.agenda(ctx, p, doctorID, date, 1)
	if err != nil {
		return AgendaDay{}, err
	}
	return week.Days[0], nil
}

// WeeklyAgenda returns seven consecutive local days starting at from; days without
// appointments are present with no items.
func (s *Service) WeeklyAgenda(ctx context.Context, p model.Principal, doctorID string, from time.Time) (WeeklyAgenda, error) {
	return s.agenda(ctx, p, doctorID, from, 7)
}

func (s *Service) agenda(ctx context.Context, p model.Principal, doctorID string, from time.Time, days int) (WeeklyAgenda, error) {
	ctx, span := s.tracer.Start(ctx, "appointments.agenda")
	defer span.End()

	if doctorID == "" {
		return WeeklyAgenda{}, apperr.Validation("doctor_id is required")
	}
	if !p.CanViewCalendar(doctorID) {
		return WeeklyAgenda{}, apperr.Forbidden("not allowed to view this doctor's agenda")
	}
	_, loc, err := s.slots.Calendar(ctx, doctorID)
	if err != nil {
		return WeeklyAgenda{}, err
	}

	first := availability.DayBounds(from, loc)
	y, m, d := first.Start.Date()
	last := availability.DayBounds(time.Date(y, m, d+days-1, 0, 0, 0, 0, loc), loc)

	appts, err := s.store.ListInRange(ctx, doctorID, first.Start, last.End)
	if err != nil {
		return WeeklyAgenda{}, apperr.Storage("list agenda", err)
	}
	summaries := s.summaries(ctx, appts)

	out := WeeklyAgenda{DoctorID: doctorID, Days: make([]AgendaDay, days)}
	index := make(map[string]int, days)
	for i := range out.Days {
		key := time.Date(y, m, d+i, 0, 0, 0, 0, loc).Format(time.DateOnly)
		out.Days[i] = AgendaDay{Date: key, Items: []AgendaItem{}}
		index[key] = i
	}
	for _, a := range appts {
		i, ok := index[a.StartTime.In(loc).Format(time.DateOnly)]
		if !ok {
			continue
		}
		item := AgendaItem{Appointment: a}
		if sum, ok := summaries[a.PatientID]; ok {
			item.Patient = &sum
		}
		out.Days[i].Items = append(out.Days[i].Items, item)
	}
	return out, nil
}

// summaries resolves patient summaries. A directory outage degrades the agenda to bare ids.
func (s *Service) summaries(ctx context.Context, appts []model.Appointment) map[string]directory.PatientSummary {
	seen := make(map[string]struct{}, len(appts))
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		if _, dup := seen[a.PatientID]; dup {
			continue
		}
		seen[a.PatientID] = struct{}{}
		ids = append(ids, a.PatientID)
	}
	if len(ids) == 0 {
		return nil
	}
	out, err := s.patients.Summaries(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "patient directory lookup failed", "err", err, "patients", len(ids))
		return nil
	}
	return out
}
