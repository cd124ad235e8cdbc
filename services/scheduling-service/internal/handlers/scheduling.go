// Package handlers exposes the scheduling core over HTTP/JSON.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/stats"
)

type SchedulingHandler struct {
	appointments *appointments.Service
	slots        *availability.Calculator
	stats        *stats.Aggregator
	logger       *slog.Logger
	location     *time.Location
	now          func() time.Time
}

// NewSchedulingHandler builds the handler. loc is used to pick "today" when a request omits its date.
func NewSchedulingHandler(svc *appointments.Service, slots *availability.Calculator, agg *stats.Aggregator, logger *slog.Logger, loc *time.Location) *SchedulingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &SchedulingHandler{appointments: svc, slots: slots, stats: agg, logger: logger, location: loc, now: time.Now}
}

// Register mounts every API route on mux behind authn.
func (h *SchedulingHandler) Register(mux *http.ServeMux, authn httpx.Middleware) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpx.Chain(fn, authn))
	}
	route("POST /api/v1/appointments", h.Create)
	route("GET /api/v1/appointments", h.List)
	route("POST /api/v1/appointments/{id}/reschedule", h.Reschedule)
	route("POST /api/v1/appointments/{id}/cancel", h.Cancel)
	route("POST /api/v1/appointments/{id}/done", h.MarkDone)
	route("POST /api/v1/appointments/{id}/no-show", h.MarkNoShow)
	route("GET /api/v1/doctors/{id}/slots", h.Slots)
	route("GET /api/v1/doctors/{id}/agenda/daily", h.DailyAgenda)
	route("GET /api/v1/doctors/{id}/agenda/weekly", h.WeeklyAgenda)
	route("GET /api/v1/doctors/{id}/stats", h.Stats)
	route("GET /api/v1/doctors/{id}/stats/daily", h.DailyStats)
	route("GET /api/v1/doctors/{id}/dashboard", h.Dashboard)
}

type createAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	SiteID    string `json:"site_id"`
	Motive    string `json:"motive"`
	Source    string `json:"source"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	SiteID    string `json:"site_id"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	SiteID        string `json:"site_id,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Motive        string `json:"motive,omitempty"`
	Source        string `json:"source"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		SiteID:        a.SiteID,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		Motive:        a.Motive,
		Source:        a.Source,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func toItems(appts []model.Appointment) []appointmentItem {
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	return items
}

func toSlots(slots []model.Interval) []slotItem {
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{StartTime: s.Start.UTC().Format(time.RFC3339), EndTime: s.End.UTC().Format(time.RFC3339)})
	}
	return items
}

func (h *SchedulingHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Validation("invalid json body"))
		return
	}
	start, end, err := parseInterval(req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.appointments.Create(r.Context(), p, appointments.CreateInput{
		PatientID: strings.TrimSpace(req.PatientID),
		DoctorID:  strings.TrimSpace(req.DoctorID),
		SiteID:    strings.TrimSpace(req.SiteID),
		Motive:    strings.TrimSpace(req.Motive),
		Source:    strings.TrimSpace(req.Source),
		Start:     start,
		End:       end,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctor_id"))
	if doctorID == "" && p.Role == model.RoleDoctor {
		doctorID = p.DoctorID
	}
	if doctorID == "" {
		writeError(w, h.logger, apperr.Validation("doctor_id required"))
		return
	}
	page := model.Page{}
	if page.Limit, err = optionalInt(q.Get("limit"), "limit"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if page.Offset, err = optionalInt(q.Get("offset"), "offset"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appts, err := h.appointments.ListForDoctor(r.Context(), p, doctorID, page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(appts))
}

func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Validation("invalid json body"))
		return
	}
	start, end, err := parseInterval(req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.appointments.Reschedule(r.Context(), p, r.PathValue("id"), appointments.RescheduleInput{
		Start:  start,
		End:    end,
		SiteID: strings.TrimSpace(req.SiteID),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.Cancel)
}

func (h *SchedulingHandler) MarkDone(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.MarkDone)
}

func (h *SchedulingHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.MarkNoShow)
}

type transitionFunc func(ctx context.Context, p model.Principal, id string) (model.Appointment, error)

func (h *SchedulingHandler) transition(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := op(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if _, err := mustPrincipal(r); err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	date, err := availability.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	duration, err := optionalInt(q.Get("duration_minutes"), "duration_minutes")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	slots, err := h.slots.FreeSlots(r.Context(), availability.Query{
		DoctorID:        r.PathValue("id"),
		Date:            date,
		DurationMinutes: duration,
		SiteID:          strings.TrimSpace(q.Get("site_id")),
		Now:             h.now(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id": r.PathValue("id"),
		"date":      date.Format(time.DateOnly),
		"slots":     toSlots(slots),
	})
}

type agendaItem struct {
	appointmentItem
	Patient *directory.PatientSummary `json:"patient,omitempty"`
}

type agendaDay struct {
	Date  string       `json:"date"`
	Items []agendaItem `json:"items"`
}

func toAgendaDay(d appointments.AgendaDay) agendaDay {
	out := agendaDay{Date: d.Date, Items: make([]agendaItem, 0, len(d.Items))}
	for _, it := range d.Items {
		out.Items = append(out.Items, agendaItem{appointmentItem: toItem(it.Appointment), Patient: it.Patient})
	}
	return out
}

func (h *SchedulingHandler) DailyAgenda(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := h.dateOrToday(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	day, err := h.appointments.DailyAgenda(r.Context(), p, r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgendaDay(day))
}

func (h *SchedulingHandler) WeeklyAgenda(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	from, err := h.dateOrToday(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	week, err := h.appointments.WeeklyAgenda(r.Context(), p, r.PathValue("id"), from)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	days := make([]agendaDay, 0, len(week.Days))
	for _, d := range week.Days {
		days = append(days, toAgendaDay(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": week.DoctorID, "days": days})
}

func (h *SchedulingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, from, to, fee, err := h.statsParams(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	b, err := h.stats.Summarize(r.Context(), p, r.PathValue("id"), from, to, fee)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *SchedulingHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	p, from, to, fee, err := h.statsParams(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	series, err := h.stats.DailySeries(r.Context(), p, r.PathValue("id"), from, to, fee)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": r.PathValue("id"), "days": series})
}

func (h *SchedulingHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	date, err := h.dateOrToday(q.Get("date"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	duration, err := optionalInt(q.Get("duration_minutes"), "duration_minutes")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	fee, err := optionalFee(q.Get("fee"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	d, err := h.stats.Dashboard(r.Context(), p, r.PathValue("id"), date, duration, fee)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := map[string]any{
		"summary":    d.Summary,
		"items":      toItems(d.Items),
		"free_slots": toSlots(d.FreeSlots),
		"next":       nil,
	}
	if d.Next != nil {
		resp["next"] = toItem(*d.Next)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SchedulingHandler) statsParams(r *http.Request) (model.Principal, time.Time, time.Time, *float64, error) {
	p, err := mustPrincipal(r)
	if err != nil {
		return model.Principal{}, time.Time{}, time.Time{}, nil, err
	}
	q := r.URL.Query()
	from, err := h.dateOrToday(q.Get("from"))
	if err != nil {
		return p, time.Time{}, time.Time{}, nil, err
	}
	to := from
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = availability.ParseDate(raw); err != nil {
			return p, time.Time{}, time.Time{}, nil, err
		}
	}
	fee, err := optionalFee(q.Get("fee"))
	return p, from, to, fee, err
}

func (h *SchedulingHandler) dateOrToday(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		y, m, d := h.now().In(h.location).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return availability.ParseDate(raw)
}

func parseInterval(rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(rawStart))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("invalid start_time")
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(rawEnd))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("invalid end_time")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, apperr.Validation("end_time must be after start_time")
	}
	return start, end, nil
}

func optionalInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

func optionalFee(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil, apperr.Validation("fee must be a non-negative number")
	}
	return &f, nil
}
