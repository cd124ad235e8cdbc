package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	DoctorID      string
	Payload       []byte
}

const AggregateAppointment = "appointment"

type Kind string

const (
	KindCreated     Kind = "created"
	KindRescheduled Kind = "rescheduled"
	KindCancelled   Kind = "cancelled"
	KindDone        Kind = "done"
	KindNoShow      Kind = "no_show"
)

func EventType(kind Kind) string {
	return "scheduling.appointment." + string(kind) + ".v1"
}

// AppointmentPayload is the JSON body consumers of appointment events decode.
type AppointmentPayload struct {
	EventID        string     `json:"event_id"`
	Kind           Kind       `json:"kind"`
	AppointmentID  string     `json:"appointment_id"`
	DoctorID       string     `json:"doctor_id"`
	PatientID      string     `json:"patient_id"`
	SiteID         string     `json:"site_id,omitempty"`
	Status         string     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	PreviousStart  *time.Time `json:"previous_start_time,omitempty"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	ActorID        string     `json:"actor_id,omitempty"`
	ActorRole      string     `json:"actor_role,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewAppointmentEvent builds the event for a committed transition. prev is the state before the
// transition and is nil for creations.
func NewAppointmentEvent(kind Kind, appt model.Appointment, prev *model.Appointment, actor model.Principal, at time.Time) (Event, error) {
	id := uuid.NewString()
	p := AppointmentPayload{
		EventID:       id,
		Kind:          kind,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		SiteID:        appt.SiteID,
		Status:        string(appt.Status),
		StartTime:     appt.StartTime.UTC(),
		EndTime:       appt.EndTime.UTC(),
		ActorID:       actor.UserID,
		ActorRole:     string(actor.Role),
		OccurredAt:    at.UTC(),
	}
	if prev != nil {
		p.PreviousStatus = string(prev.Status)
		if !prev.StartTime.Equal(appt.StartTime) {
			s := prev.StartTime.UTC()
			p.PreviousStart = &s
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       id,
		AggregateType: AggregateAppointment,
		AggregateID:   appt.ID,
		EventType:     EventType(kind),
		DoctorID:      appt.DoctorID,
		Payload:       body,
	}, nil
}
