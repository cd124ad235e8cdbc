package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type busyStub []model.Appointment

func (b busyStub) ListBooked(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	span := model.Interval{Start: from, End: to}
	for _, a := range b {
		if a.DoctorID == doctorID && a.Status == model.StatusBooked && a.Interval().Overlaps(span) {
			out = append(out, a)
		}
	}
	return out, nil
}

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newValidator(cfg calendar.Config) *Validator {
	calc := availability.NewCalculator(calendar.NewStaticProvider(cfg), busyStub{}, time.UTC)
	return NewValidator(DefaultRules(), calc)
}

func weekdayCalendar() calendar.Config {
	cfg := calendar.Config{DoctorID: "d1", DefaultDurationMinutes: 30, AllowSameDay: true}
	for d := time.Monday; d <= time.Friday; d++ {
		cfg.Windows = append(cfg.Windows, calendar.Window{Weekday: d, StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	return cfg
}

func req(start time.Time, minutes int, now time.Time) Request {
	return Request{DoctorID: "d1", Start: start, End: start.Add(time.Duration(minutes) * time.Minute), Action: ActionBook, Now: now}
}

func TestValidateLeadTime(t *testing.T) {
	v := newValidator(weekdayCalendar())
	now := monday.Add(9 * time.Hour)

	err := v.Validate(context.Background(), busyStub{}, req(now.Add(30*time.Minute), 30, now))
	if !errors.Is(err, apperr.ErrLeadTimeTooShort) {
		t.Fatalf("expected lead time rejection, got %v", err)
	}
	if err := v.Validate(context.Background(), busyStub{}, req(now.Add(time.Hour), 30, now)); err != nil {
		t.Fatalf("expected exactly the threshold to pass, got %v", err)
	}
}

func TestValidateAvailability(t *testing.T) {
	cfg := weekdayCalendar()
	cfg.MaxAdvanceDays = 7
	v := newValidator(cfg)
	now := monday.Add(-48 * time.Hour)

	cases := []struct {
		name  string
		start time.Time
		mins  int
	}{
		{"before opening", monday.Add(8*time.Hour + 45*time.Minute), 30},
		{"past closing", monday.Add(16*time.Hour + 45*time.Minute), 30},
		{"weekend", monday.Add(-24*time.Hour + 10*time.Hour), 30},
		{"beyond horizon", monday.AddDate(0, 0, 7).Add(10 * time.Hour), 30},
	}
	for _, tc := range cases {
		err := v.Validate(context.Background(), busyStub{}, req(tc.start, tc.mins, now))
		if !errors.Is(err, apperr.ErrSlotUnavailable) {
			t.Fatalf("%s: expected slot unavailable, got %v", tc.name, err)
		}
	}
}

func TestValidateSameDayFlag(t *testing.T) {
	cfg := weekdayCalendar()
	cfg.AllowSameDay = false
	v := newValidator(cfg)
	now := monday.Add(8 * time.Hour)

	err := v.Validate(context.Background(), busyStub{}, req(monday.Add(14*time.Hour), 30, now))
	if !errors.Is(err, apperr.ErrSlotUnavailable) {
		t.Fatalf("expected same-day rejection, got %v", err)
	}
	if err := v.Validate(context.Background(), busyStub{}, req(monday.Add(24*time.Hour+10*time.Hour), 30, now)); err != nil {
		t.Fatalf("expected next-day booking to pass, got %v", err)
	}
}

func TestValidateOverlap(t *testing.T) {
	v := newValidator(weekdayCalendar())
	now := monday.Add(-24 * time.Hour)
	existing := model.Appointment{
		ID: "a1", DoctorID: "d1", Status: model.StatusBooked,
		StartTime: monday.Add(10 * time.Hour), EndTime: monday.Add(10*time.Hour + 30*time.Minute),
	}
	busy := busyStub{existing}

	err := v.Validate(context.Background(), busy, req(monday.Add(10*time.Hour+15*time.Minute), 30, now))
	if !errors.Is(err, apperr.ErrOverlap) {
		t.Fatalf("expected overlap, got %v", err)
	}
	if err := v.Validate(context.Background(), busy, req(monday.Add(10*time.Hour+30*time.Minute), 30, now)); err != nil {
		t.Fatalf("expected adjacent booking to pass, got %v", err)
	}

	moved := req(monday.Add(10*time.Hour+15*time.Minute), 30, now)
	moved.Action = ActionReschedule
	moved.ExcludeID = "a1"
	if err := v.Validate(context.Background(), busy, moved); err != nil {
		t.Fatalf("expected rescheduled appointment to ignore itself, got %v", err)
	}
}

func TestValidateFailsFast(t *testing.T) {
	v := newValidator(weekdayCalendar())
	now := monday.Add(10 * time.Hour)
	// Too soon and outside working hours: the lead-time rule wins.
	err := v.Validate(context.Background(), busyStub{}, req(monday.Add(10*time.Hour+10*time.Minute), 600, now))
	if !errors.Is(err, apperr.ErrLeadTimeTooShort) {
		t.Fatalf("expected lead time first, got %v", err)
	}

	err = v.Validate(context.Background(), busyStub{}, Request{DoctorID: "d1", Start: now, End: now, Now: now})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty interval, got %v", err)
	}
}

func TestSlotOverlapRoundTrip(t *testing.T) {
	cfg := weekdayCalendar()
	busy := busyStub{}
	calc := availability.NewCalculator(calendar.NewStaticProvider(cfg), busy, time.UTC)
	v := NewValidator(DefaultRules(), calc)
	now := monday.Add(-24 * time.Hour)

	slots, err := calc.FreeSlots(context.Background(), availability.Query{DoctorID: "d1", Date: monday})
	if err != nil || len(slots) == 0 {
		t.Fatalf("FreeSlots: %v (%d slots)", err, len(slots))
	}
	for _, s := range slots {
		if err := v.Validate(context.Background(), busy, Request{DoctorID: "d1", Start: s.Start, End: s.End, Now: now}); err != nil {
			t.Fatalf("free slot %s rejected: %v", s.Start, err)
		}
	}
}

func TestCheckCancelLeadTime(t *testing.T) {
	v := newValidator(weekdayCalendar())
	now := monday.Add(9 * time.Hour)
	appt := model.Appointment{DoctorID: "d1", PatientID: "p1", StartTime: now.Add(90 * time.Minute)}

	patient := model.Principal{UserID: "u1", Role: model.RolePatient, PatientID: "p1"}
	if err := v.CheckCancelLeadTime(patient, appt, now); !errors.Is(err, apperr.ErrCancelTooLate) {
		t.Fatalf("expected cancel too late, got %v", err)
	}
	doctor := model.Principal{UserID: "u2", Role: model.RoleDoctor, DoctorID: "d1"}
	if err := v.CheckCancelLeadTime(doctor, appt, now); err != nil {
		t.Fatalf("expected doctor exemption, got %v", err)
	}
}
