// Package booking decides whether a proposed appointment interval may be committed.
package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
)

// Rules are the lead-time policies, fixed at construction.
type Rules struct {
	MinBookAhead   time.Duration
	MinCancelAhead time.Duration
}

func DefaultRules() Rules {
	return Rules{MinBookAhead: 60 * time.Minute, MinCancelAhead: 120 * time.Minute}
}

type Action string

const (
	ActionBook       Action = "book"
	ActionReschedule Action = "reschedule"
)

type Request struct {
	DoctorID string
	SiteID   string
	Start    time.Time
	End      time.Time
	Action   Action
	// ExcludeID is ignored by the overlap check; set to the appointment being rescheduled.
	ExcludeID string
	Now       time.Time
}

type Validator struct {
	rules Rules
	slots *availability.Calculator
}

func NewValidator(rules Rules, slots *availability.Calculator) *Validator {
	return &Validator{rules: rules, slots: slots}
}

func (v *Validator) Rules() Rules {
	return v.rules
}

// Validate checks lead time, then availability, then overlap, and returns the first failure.
// busy is read for the overlap check so callers can pass a transaction.
func (v *Validator) Validate(ctx context.Context, busy store.BusyReader, req Request) error {
	if req.DoctorID == "" {
		return apperr.Validation("doctor_id is required")
	}
	if !req.End.After(req.Start) {
		return apperr.Validation("end must be after start")
	}

	if req.Start.Before(req.Now.Add(v.rules.MinBookAhead)) {
		return apperr.New(apperr.KindLeadTimeTooShort,
			"appointments must start at least %d minutes from now", int(v.rules.MinBookAhead/time.Minute))
	}

	if err := v.checkAvailability(ctx, req); err != nil {
		return err
	}

	booked, err := busy.ListBooked(ctx, req.DoctorID, req.Start, req.End)
	if err != nil {
		return apperr.Storage("list booked appointments", err)
	}
	want := model.Interval{Start: req.Start, End: req.End}
	for _, a := range booked {
		if a.ID == req.ExcludeID {
			continue
		}
		if want.Overlaps(a.Interval()) {
			return apperr.New(apperr.KindOverlap, "doctor already has an appointment from %s to %s",
				a.StartTime.UTC().Format(time.RFC3339), a.EndTime.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func (v *Validator) checkAvailability(ctx context.Context, req Request) error {
	plan, err := v.slots.PlanAt(ctx, req.DoctorID, req.Start, req.SiteID)
	if err != nil {
		return err
	}

	if !plan.Config.AllowSameDay && plan.Day.Start.Equal(availability.DayBounds(req.Now.In(plan.Location), plan.Location).Start) {
		return apperr.New(apperr.KindSlotUnavailable, "same-day appointments are not accepted for this doctor")
	}
	if days := plan.Config.MaxAdvanceDays; days > 0 && req.Start.After(req.Now.AddDate(0, 0, days)) {
		return apperr.New(apperr.KindSlotUnavailable, "appointments can be booked at most %d days ahead", days)
	}

	want := model.Interval{Start: req.Start, End: req.End}
	for _, w := range plan.Windows {
		if w.Contains(want) {
			return nil
		}
	}
	return apperr.New(apperr.KindSlotUnavailable, "requested time is outside the doctor's working hours")
}

// CheckCancelLeadTime enforces MinCancelAhead for patients; doctors and admins are exempt.
func (v *Validator) CheckCancelLeadTime(p model.Principal, appt model.Appointment, now time.Time) error {
	if p.Role != model.RolePatient {
		return nil
	}
	if appt.StartTime.Before(now.Add(v.rules.MinCancelAhead)) {
		return apperr.New(apperr.KindCancelTooLate,
			"patients must cancel at least %d minutes before the appointment", int(v.rules.MinCancelAhead/time.Minute))
	}
	return nil
}
