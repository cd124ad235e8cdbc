// Package calendar exposes per-doctor working windows and consultation parameters.
// The scheduling core only reads this data.
package calendar

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

const DefaultDurationMinutes = 30

// Window is a recurring weekly working window, in minutes from local midnight.
// An empty SiteID means the window applies at every site.
type Window struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
	SiteID      string       `json:"site_id,omitempty"`
}

type Config struct {
	DoctorID               string   `json:"doctor_id"`
	Timezone               string   `json:"timezone,omitempty"`
	Windows                []Window `json:"windows"`
	DefaultDurationMinutes int      `json:"default_duration_minutes"`
	BufferMinutes          int      `json:"buffer_minutes"`
	// MaxAdvanceDays limits how far ahead a booking may start; 0 means unlimited.
	MaxAdvanceDays  int     `json:"max_advance_days"`
	AllowSameDay    bool    `json:"allow_same_day"`
	ConsultationFee float64 `json:"consultation_fee"`
}

type Provider interface {
	Get(ctx context.Context, doctorID string) (Config, error)
}

// Location resolves the doctor's timezone, falling back when unset or unknown.
func (c Config) Location(fallback *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

func (c Config) Duration() time.Duration {
	if c.DefaultDurationMinutes <= 0 {
		return DefaultDurationMinutes * time.Minute
	}
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

func (c Config) Buffer() time.Duration {
	if c.BufferMinutes <= 0 {
		return 0
	}
	return time.Duration(c.BufferMinutes) * time.Minute
}

// WindowsOn returns the concrete working intervals on the calendar day containing day,
// in the day's location, ordered by start. A non-empty siteID drops windows bound to other sites.
func (c Config) WindowsOn(day time.Time, siteID string) []model.Interval {
	y, m, d := day.Date()
	loc := day.Location()
	var out []model.Interval
	for _, w := range c.Windows {
		if w.Weekday != day.Weekday() {
			continue
		}
		if siteID != "" && w.SiteID != "" && w.SiteID != siteID {
			continue
		}
		iv := model.Interval{
			Start: time.Date(y, m, d, 0, w.StartMinute, 0, 0, loc),
			End:   time.Date(y, m, d, 0, w.EndMinute, 0, 0, loc),
		}
		if iv.Valid() {
			out = insertSorted(out, iv)
		}
	}
	return out
}

func insertSorted(list []model.Interval, iv model.Interval) []model.Interval {
	i := len(list)
	for i > 0 && list[i-1].Start.After(iv.Start) {
		i--
	}
	list = append(list, model.Interval{})
	copy(list[i+1:], list[i:])
	list[i] = iv
	return list
}

// StaticProvider serves fixed configurations; doctors without one get an empty calendar.
type StaticProvider struct {
	configs map[string]Config
}

func NewStaticProvider(configs ...Config) *StaticProvider {
	m := make(map[string]Config, len(configs))
	for _, c := range configs {
		m[c.DoctorID] = c
	}
	return &StaticProvider{configs: m}
}

func (p *StaticProvider) Get(_ context.Context, doctorID string) (Config, error) {
	if c, ok := p.configs[doctorID]; ok {
		return c, nil
	}
	return Config{DoctorID: doctorID, DefaultDurationMinutes: DefaultDurationMinutes, AllowSameDay: true}, nil
}
