// Package stats aggregates a doctor's appointments into operational indicators.
package stats

import (
	"context"
	"math"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
)

// MaxRangeDays bounds a single aggregation request.
const MaxRangeDays = 366

type Bucket struct {
	// Date is set on daily buckets only.
	Date             string   `json:"date,omitempty"`
	From             string   `json:"from"`
	To               string   `json:"to"`
	Total            int      `json:"total"`
	Booked           int      `json:"booked"`
	Done             int      `json:"done"`
	Cancelled        int      `json:"cancelled"`
	NoShow           int      `json:"no_show"`
	MinutesBooked    int      `json:"minutes_booked"`
	MinutesDone      int      `json:"minutes_done"`
	FreeSlotMinutes  int      `json:"free_slot_minutes"`
	DistinctPatients int      `json:"distinct_patients"`
	NoShowRate       float64  `json:"no_show_rate"`
	CancelRate       float64  `json:"cancel_rate"`
	OccupancyRate    float64  `json:"occupancy_rate"`
	AvgApptMinutes   int      `json:"avg_appt_minutes"`
	RevenueEstimate  *float64 `json:"revenue_estimate,omitempty"`
}

type Aggregator struct {
	store store.Store
	slots *availability.Calculator
	now   func() time.Time
}

func NewAggregator(st store.Store, slots *availability.Calculator, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: st, slots: slots, now: now}
}

// Summarize aggregates the civil days from..to inclusive into one bucket.
// fee, when non-nil, yields RevenueEstimate = done * fee.
func (a *Aggregator) Summarize(ctx context.Context, p model.Principal, doctorID string, from, to time.Time, fee *float64) (Bucket, error) {
	r, err := a.load(ctx, p, doctorID, from, to)
	if err != nil {
		return Bucket{}, err
	}
	acc := newAccumulator()
	for _, day := range r.days {
		acc.add(day.appts, day.freeMinutes)
	}
	b := acc.bucket(fee)
	b.From, b.To = r.days[0].date, r.days[len(r.days)-1].date
	return b, nil
}

// DailySeries returns one bucket per civil day from..to inclusive, in order, including empty days.
func (a *Aggregator) DailySeries(ctx context.Context, p model.Principal, doctorID string, from, to time.Time, fee *float64) ([]Bucket, error) {
	r, err := a.load(ctx, p, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Bucket, 0, len(r.days))
	for _, day := range r.days {
		acc := newAccumulator()
		acc.add(day.appts, day.freeMinutes)
		b := acc.bucket(fee)
		b.Date, b.From, b.To = day.date, day.date, day.date
		out = append(out, b)
	}
	return out, nil
}

type Dashboard struct {
	Summary   Bucket
	Items     []model.Appointment
	FreeSlots []model.Interval
	Next      *model.Appointment
}

// Dashboard combines the day's summary, its appointments, the free slots of the requested
// duration and the next booked appointment from now on.
func (a *Aggregator) Dashboard(ctx context.Context, p model.Principal, doctorID string, date time.Time, durationMinutes int, fee *float64) (Dashboard, error) {
	r, err := a.load(ctx, p, doctorID, date, date)
	if err != nil {
		return Dashboard{}, err
	}
	day := r.days[0]
	acc := newAccumulator()
	acc.add(day.appts, day.freeMinutes)
	summary := acc.bucket(fee)
	summary.Date, summary.From, summary.To = day.date, day.date, day.date

	slots, err := a.slots.FreeSlots(ctx, availability.Query{DoctorID: doctorID, Date: date, DurationMinutes: durationMinutes, Now: a.now()})
	if err != nil {
		return Dashboard{}, err
	}
	next, ok, err := a.store.NextBooked(ctx, doctorID, a.now())
	if err != nil {
		return Dashboard{}, apperr.Storage("next booked appointment", err)
	}
	d := Dashboard{Summary: summary, Items: day.appts, FreeSlots: slots}
	if d.Items == nil {
		d.Items = []model.Appointment{}
	}
	if ok {
		d.Next = &next
	}
	return d, nil
}

type dayData struct {
	date        string
	appts       []model.Appointment
	freeMinutes int
}

type rangeData struct {
	days []dayData
}

func (a *Aggregator) load(ctx context.Context, p model.Principal, doctorID string, from, to time.Time) (rangeData, error) {
	if doctorID == "" {
		return rangeData{}, apperr.Validation("doctor_id is required")
	}
	if !p.CanViewCalendar(doctorID) {
		return rangeData{}, apperr.Forbidden("not allowed to view this doctor's statistics")
	}
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	if end.Before(start) {
		return rangeData{}, apperr.Validation("to must not be before from")
	}
	n := int(end.Sub(start)/(24*time.Hour)) + 1
	if n > MaxRangeDays {
		return rangeData{}, apperr.Validation("range must not exceed %d days", MaxRangeDays)
	}

	cfg, loc, err := a.slots.Calendar(ctx, doctorID)
	if err != nil {
		return rangeData{}, err
	}
	first := availability.DayBounds(start, loc)
	last := availability.DayBounds(end, loc)
	appts, err := a.store.ListInRange(ctx, doctorID, first.Start, last.End)
	if err != nil {
		return rangeData{}, apperr.Storage("list appointments", err)
	}

	days := make([]dayData, n)
	index := make(map[string]int, n)
	for i := range days {
		key := time.Date(fy, fm, fd+i, 0, 0, 0, 0, loc).Format(time.DateOnly)
		days[i].date = key
		index[key] = i
	}
	for _, appt := range appts {
		if i, ok := index[appt.StartTime.In(loc).Format(time.DateOnly)]; ok {
			days[i].appts = append(days[i].appts, appt)
		}
	}
	for i := range days {
		days[i].freeMinutes = freeMinutes(cfg, loc, time.Date(fy, fm, fd+i, 0, 0, 0, 0, loc), days[i].appts)
	}
	return rangeData{days: days}, nil
}

// freeMinutes carves the day with the doctor's default duration around booked and done
// appointments, so attended time is not also counted as free.
func freeMinutes(cfg calendar.Config, loc *time.Location, day time.Time, appts []model.Appointment) int {
	plan := availability.NewPlan(cfg, loc, day, "")
	busy := make([]model.Interval, 0, len(appts))
	for _, a := range appts {
		if a.Status == model.StatusBooked || a.Status == model.StatusDone {
			busy = append(busy, a.Interval())
		}
	}
	return availability.TotalMinutes(plan.Slots(0, busy))
}

type accumulator struct {
	b        Bucket
	minutes  int
	patients map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{patients: make(map[string]struct{})}
}

func (acc *accumulator) add(appts []model.Appointment, free int) {
	acc.b.FreeSlotMinutes += free
	for _, a := range appts {
		mins := int(a.Duration() / time.Minute)
		acc.b.Total++
		acc.minutes += mins
		acc.patients[a.PatientID] = struct{}{}
		switch a.Status {
		case model.StatusBooked:
			acc.b.Booked++
			acc.b.MinutesBooked += mins
		case model.StatusDone:
			acc.b.Done++
			acc.b.MinutesBooked += mins
			acc.b.MinutesDone += mins
		case model.StatusCancelled:
			acc.b.Cancelled++
		case model.StatusNoShow:
			acc.b.NoShow++
		}
	}
}

func (acc *accumulator) bucket(fee *float64) Bucket {
	b := acc.b
	b.DistinctPatients = len(acc.patients)
	b.NoShowRate = percent(b.NoShow, b.Total)
	b.CancelRate = percent(b.Cancelled, b.Total)
	b.OccupancyRate = percent(b.MinutesBooked, b.MinutesBooked+b.FreeSlotMinutes)
	if b.Total > 0 {
		b.AvgApptMinutes = int(math.Round(float64(acc.minutes) / float64(b.Total)))
	}
	if fee != nil {
		rev := math.Round(float64(b.Done)*(*fee)*100) / 100
		b.RevenueEstimate = &rev
	}
	return b
}

// percent returns part/total as a percentage rounded to one decimal, 0 when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
