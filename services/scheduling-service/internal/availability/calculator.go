// Package availability computes a doctor's free consultation slots from the calendar
// configuration and the booked appointments of the day.
package availability

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
)

type Calculator struct {
	calendars calendar.Provider
	busy      store.BusyReader
	fallback  *time.Location
	leadTime  time.Duration
}

func NewCalculator(calendars calendar.Provider, busy store.BusyReader, fallback *time.Location) *Calculator {
	if fallback == nil {
		fallback = time.UTC
	}
	return &Calculator{calendars: calendars, busy: busy, fallback: fallback}
}

// WithLeadTime sets the minimum distance from Query.Now to the first offered slot. It should
// match the booking lead time so every offered slot can be booked.
func (c *Calculator) WithLeadTime(d time.Duration) *Calculator {
	c.leadTime = d
	return c
}

// Query selects a day of a doctor's calendar. Date is read as a civil date; only its
// year, month and day are used. DurationMinutes 0 means the doctor's default duration.
type Query struct {
	DoctorID        string
	Date            time.Time
	DurationMinutes int
	SiteID          string
	// ExcludeID drops one appointment from the busy set, e.g. the one being rescheduled.
	ExcludeID string
	// Now limits the result to bookable slots: none on the current local day unless
	// same-day booking is allowed, none beyond the advance horizon and none starting
	// within the lead time. The zero value returns the whole day.
	Now time.Time
}

// DayPlan is the resolved calendar of one local day.
type DayPlan struct {
	Config   calendar.Config
	Location *time.Location
	Day      model.Interval
	Windows  []model.Interval
}

// Calendar loads the doctor's configuration and resolved timezone.
func (c *Calculator) Calendar(ctx context.Context, doctorID string) (calendar.Config, *time.Location, error) {
	cfg, err := c.calendars.Get(ctx, doctorID)
	if err != nil {
		return calendar.Config{}, nil, apperr.Storage("load calendar", err)
	}
	return cfg, cfg.Location(c.fallback), nil
}

// Plan resolves the civil day date of the doctor's calendar.
func (c *Calculator) Plan(ctx context.Context, doctorID string, date time.Time, siteID string) (DayPlan, error) {
	cfg, loc, err := c.Calendar(ctx, doctorID)
	if err != nil {
		return DayPlan{}, err
	}
	return NewPlan(cfg, loc, date, siteID), nil
}

// PlanAt resolves the local day containing the instant at.
func (c *Calculator) PlanAt(ctx context.Context, doctorID string, at time.Time, siteID string) (DayPlan, error) {
	cfg, loc, err := c.Calendar(ctx, doctorID)
	if err != nil {
		return DayPlan{}, err
	}
	return NewPlan(cfg, loc, at.In(loc), siteID), nil
}

// NewPlan resolves the civil day of date in loc against cfg.
func NewPlan(cfg calendar.Config, loc *time.Location, date time.Time, siteID string) DayPlan {
	day := DayBounds(date, loc)
	return DayPlan{
		Config:   cfg,
		Location: loc,
		Day:      day,
		Windows:  cfg.WindowsOn(day.Start, siteID),
	}
}

// FreeSlots returns the ordered, non-overlapping free slots of the requested day.
// With Query.Now set every returned slot passes the booking rules that depend on the clock.
func (c *Calculator) FreeSlots(ctx context.Context, q Query) ([]model.Interval, error) {
	if q.DoctorID == "" {
		return nil, apperr.Validation("doctor_id is required")
	}
	if q.DurationMinutes < 0 {
		return nil, apperr.Validation("duration_minutes must be positive")
	}
	plan, err := c.Plan(ctx, q.DoctorID, q.Date, q.SiteID)
	if err != nil {
		return nil, err
	}
	if len(plan.Windows) == 0 {
		return nil, nil
	}
	var notBefore, horizon time.Time
	if !q.Now.IsZero() {
		if !plan.Config.AllowSameDay && plan.Day.Start.Equal(DayBounds(q.Now.In(plan.Location), plan.Location).Start) {
			return nil, nil
		}
		if days := plan.Config.MaxAdvanceDays; days > 0 {
			horizon = q.Now.AddDate(0, 0, days)
		}
		notBefore = q.Now.Add(c.leadTime)
	}

	booked, err := c.busy.ListBooked(ctx, q.DoctorID, plan.Day.Start, plan.Day.End)
	if err != nil {
		return nil, apperr.Storage("list booked appointments", err)
	}
	busy := make([]model.Interval, 0, len(booked))
	for _, a := range booked {
		if a.ID == q.ExcludeID {
			continue
		}
		busy = append(busy, a.Interval())
	}
	slots := plan.SlotsFrom(q.DurationMinutes, busy, notBefore)
	if horizon.IsZero() {
		return slots, nil
	}
	out := slots[:0]
	for _, s := range slots {
		if !s.Start.After(horizon) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Slots carves every window of the plan with the given busy set. durationMinutes 0 uses the
// configured default; the step is duration plus the configured buffer.
func (p DayPlan) Slots(durationMinutes int, busy []model.Interval) []model.Interval {
	return p.SlotsFrom(durationMinutes, busy, time.Time{})
}

// SlotsFrom is Slots without the candidates starting before notBefore.
func (p DayPlan) SlotsFrom(durationMinutes int, busy []model.Interval, notBefore time.Time) []model.Interval {
	duration := p.Config.Duration()
	if durationMinutes > 0 {
		duration = time.Duration(durationMinutes) * time.Minute
	}
	step := duration + p.Config.Buffer()

	var out []model.Interval
	for _, w := range p.Windows {
		out = append(out, Carve(w, duration, step, busy, notBefore)...)
	}
	return out
}

// DayBounds returns local midnight to next local midnight of date's civil day in loc.
// The span is 23 or 25 hours on DST transition days.
func DayBounds(date time.Time, loc *time.Location) model.Interval {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return model.Interval{Start: start, End: time.Date(y, m, d+1, 0, 0, 0, 0, loc)}
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be YYYY-MM-DD (got %q)", raw)
	}
	return d, nil
}
