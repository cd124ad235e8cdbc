package availability

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

func TestCarve_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := model.Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}
	busy := []model.Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := Carve(window, 15*time.Minute, 15*time.Minute, busy, time.Time{})
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[1].Start.Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Start.Format(time.RFC3339))
	}
}

func TestCarve_TouchingBusyIsFree(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := model.Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}
	busy := []model.Interval{{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10 * time.Hour)}}

	slots := Carve(window, 30*time.Minute, 30*time.Minute, busy, time.Time{})
	if len(slots) != 1 || !slots[0].End.Equal(busy[0].Start) {
		t.Fatalf("expected a single slot ending at the busy start, got %+v", slots)
	}
}

func TestCarve_BufferAndShortWindow(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := model.Interval{Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)}

	slots := Carve(window, 30*time.Minute, 40*time.Minute, nil, time.Time{})
	// 09:00, 09:40, 10:20; 11:00 would end past the close.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if !slots[2].Start.Equal(day.Add(10*time.Hour + 20*time.Minute)) {
		t.Fatalf("unexpected third slot %s", slots[2].Start.Format(time.RFC3339))
	}

	short := model.Interval{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 20*time.Minute)}
	if got := Carve(short, 30*time.Minute, 30*time.Minute, nil, time.Time{}); len(got) != 0 {
		t.Fatalf("expected no slot from a short window, got %+v", got)
	}
}

func TestCarve_SkipsCandidatesBeforeNotBefore(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := model.Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	slots := Carve(window, 15*time.Minute, 15*time.Minute, nil, day.Add(9*time.Hour+20*time.Minute))
	if len(slots) != 2 || !slots[0].Start.Equal(day.Add(9*time.Hour+30*time.Minute)) {
		t.Fatalf("expected 09:30 and 09:45, got %+v", slots)
	}
}

type busyStub struct {
	appts []model.Appointment
}

func (b busyStub) ListBooked(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range b.appts {
		if a.DoctorID == doctorID && a.Status == model.StatusBooked && a.Interval().Overlaps(model.Interval{Start: from, End: to}) {
			out = append(out, a)
		}
	}
	return out, nil
}

func mondayCalendar() calendar.Config {
	return calendar.Config{
		DoctorID:               "d1",
		DefaultDurationMinutes: 30,
		AllowSameDay:           true,
		Windows: []calendar.Window{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60},
			{Weekday: time.Monday, StartMinute: 14 * 60, EndMinute: 15 * 60, SiteID: "north"},
		},
	}
}

func TestFreeSlots(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	busy := busyStub{appts: []model.Appointment{
		{ID: "a1", DoctorID: "d1", Status: model.StatusBooked, StartTime: monday.Add(9 * time.Hour), EndTime: monday.Add(9*time.Hour + 30*time.Minute)},
		{ID: "a2", DoctorID: "d1", Status: model.StatusCancelled, StartTime: monday.Add(10 * time.Hour), EndTime: monday.Add(10*time.Hour + 30*time.Minute)},
	}}
	calc := NewCalculator(calendar.NewStaticProvider(mondayCalendar()), busy, time.UTC)

	slots, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	// Six morning slots minus the booked one, plus two afternoon slots.
	if len(slots) != 7 {
		t.Fatalf("expected 7 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected first slot 09:30, got %s", slots[0].Start)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].End.After(slots[i-1].Start) || slots[i].Start.Before(slots[i-1].End) {
			t.Fatalf("slots overlap or are unordered at %d: %+v", i, slots)
		}
	}

	excluded, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday, SiteID: "south", ExcludeID: "a1"})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(excluded) != 6 || !excluded[0].Start.Equal(monday.Add(9*time.Hour)) {
		t.Fatalf("expected six morning slots with a1 excluded, got %+v", excluded)
	}
}

func TestFreeSlots_NoWindowsAndTimezone(t *testing.T) {
	calc := NewCalculator(calendar.NewStaticProvider(mondayCalendar()), busyStub{}, time.UTC)
	tuesday := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	slots, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: tuesday})
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected no slots on a day without windows, got %+v (%v)", slots, err)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cfg := mondayCalendar()
	cfg.Timezone = "America/New_York"
	calc = NewCalculator(calendar.NewStaticProvider(cfg), busyStub{}, time.UTC)
	slots, err = calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), DurationMinutes: 60})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, ny)
	if len(slots) != 4 || !slots[0].Start.Equal(want) {
		t.Fatalf("expected 4 hour slots from 09:00 New York, got %+v", slots)
	}
}

func TestDayBoundsDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	day := DayBounds(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), ny)
	if got := day.End.Sub(day.Start); got != 23*time.Hour {
		t.Fatalf("expected a 23h day, got %s", got)
	}
}

func TestFreeSlots_NowAppliesLeadTime(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	calc := NewCalculator(calendar.NewStaticProvider(mondayCalendar()), busyStub{}, time.UTC).WithLeadTime(time.Hour)

	slots, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday, Now: monday.Add(10*time.Hour + 10*time.Minute)})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	// 11:10 is the earliest bookable start: 11:30 and the two afternoon slots remain.
	if len(slots) != 3 || !slots[0].Start.Equal(monday.Add(11*time.Hour+30*time.Minute)) {
		t.Fatalf("expected 3 slots from 11:30, got %+v", slots)
	}

	whole, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday})
	if err != nil || len(whole) != 8 {
		t.Fatalf("expected the whole day without Now, got %d (%v)", len(whole), err)
	}
}

func TestFreeSlots_NowAppliesSameDayAndHorizon(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cfg := mondayCalendar()
	cfg.AllowSameDay = false
	calc := NewCalculator(calendar.NewStaticProvider(cfg), busyStub{}, time.UTC)
	slots, err := calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday, Now: monday.Add(7 * time.Hour)})
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected no same-day slots, got %+v (%v)", slots, err)
	}

	cfg = mondayCalendar()
	cfg.MaxAdvanceDays = 1
	calc = NewCalculator(calendar.NewStaticProvider(cfg), busyStub{}, time.UTC)
	sunday := monday.Add(-24 * time.Hour)
	slots, err = calc.FreeSlots(context.Background(), Query{DoctorID: "d1", Date: monday, Now: sunday.Add(10 * time.Hour)})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	// The horizon ends at Monday 10:00.
	if len(slots) != 3 || !slots[2].Start.Equal(monday.Add(10*time.Hour)) {
		t.Fatalf("expected 09:00 to 10:00, got %+v", slots)
	}
}
