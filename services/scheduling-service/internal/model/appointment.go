package model

import (
	"fmt"
	"time"
)

// Status is the closed set of appointment lifecycle states.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var AllStatuses = []Status{StatusBooked, StatusDone, StatusCancelled, StatusNoShow}

func ParseStatus(raw string) (Status, error) {
	for _, s := range AllStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

// Transition names an operation that moves an appointment between states.
type Transition string

const (
	TransitionReschedule Transition = "reschedule"
	TransitionCancel     Transition = "cancel"
	TransitionMarkDone   Transition = "mark_done"
	TransitionMarkNoShow Transition = "mark_no_show"
)

// transitions is the only place that decides which operation may run from which state and
// where it leads. Reschedule keeps booked appointments booked and revives cancelled/no-show ones.
var transitions = map[Status]map[Transition]Status{
	StatusBooked: {
		TransitionReschedule: StatusBooked,
		TransitionCancel:     StatusCancelled,
		TransitionMarkDone:   StatusDone,
		TransitionMarkNoShow: StatusNoShow,
	},
	StatusCancelled: {
		TransitionReschedule: StatusBooked,
	},
	StatusNoShow: {
		TransitionReschedule: StatusBooked,
	},
	StatusDone: {},
}

// Next returns the state reached by applying t from s.
func Next(s Status, t Transition) (Status, bool) {
	next, ok := transitions[s][t]
	return next, ok
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Appointment struct {
	ID          string
	PatientID   string
	DoctorID    string
	SiteID      string
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	Motive      string
	Source      string
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// Page is offset pagination for listings.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
