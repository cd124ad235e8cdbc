package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/stats"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

const secret = "test-secret"

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := calendar.Config{DoctorID: "d1", DefaultDurationMinutes: 30, AllowSameDay: true}
	for d := time.Monday; d <= time.Friday; d++ {
		cfg.Windows = append(cfg.Windows, calendar.Window{Weekday: d, StartMinute: 9 * 60, EndMinute: 12 * 60})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := storage.NewMemoryStore()
	calc := availability.NewCalculator(calendar.NewStaticProvider(cfg), st, time.UTC)
	clock := func() time.Time { return now }
	svc := appointments.NewService(appointments.Options{
		Store:     st,
		Validator: booking.NewValidator(booking.DefaultRules(), calc),
		Slots:     calc,
		Logger:    logger,
		Now:       clock,
	})
	h := NewSchedulingHandler(svc, calc, stats.NewAggregator(st, calc, clock), logger, time.UTC)
	h.now = clock

	mux := http.NewServeMux()
	h.Register(mux, NewAuthenticator(auth.Verifier{Secret: secret}, true).Middleware())
	return mux
}

func asPatient(r *http.Request) *http.Request {
	r.Header.Set(HeaderUserID, "u-pat")
	r.Header.Set(HeaderRole, "patient")
	r.Header.Set(HeaderPatientID, "p1")
	return r
}

func asDoctor(r *http.Request) *http.Request {
	r.Header.Set(HeaderUserID, "u-doc")
	r.Header.Set(HeaderRole, "doctor")
	r.Header.Set(HeaderDoctorID, "d1")
	return r
}

func do(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, r)
	return rw
}

func createBody(start string) io.Reader {
	return strings.NewReader(`{"patient_id":"p1","doctor_id":"d1","start_time":"` + start + `","end_time":"` +
		mustShift(start, 30*time.Minute) + `","motive":"checkup"}`)
}

func mustShift(raw string, d time.Duration) string {
	t, _ := time.Parse(time.RFC3339, raw)
	return t.Add(d).Format(time.RFC3339)
}

func decodeError(t *testing.T, rw *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rw.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid error body %q: %v", rw.Body.String(), err)
	}
	return env.Error
}

func TestCreateAndOverlap(t *testing.T) {
	h := newServer(t)

	rw := do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T09:00:00Z"))))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var created appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "booked" || created.Source != "web" || created.AppointmentID == "" {
		t.Fatalf("unexpected appointment %+v", created)
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T09:15:00Z"))))
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
	if e := decodeError(t, rw); e.Kind != "overlap" || e.Retryable {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newServer(t)

	rw := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T09:00:00Z")))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rw.Code)
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader("{"))))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rw.Code)
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-01T08:30:00Z"))))
	if rw.Code != http.StatusUnprocessableEntity || decodeError(t, rw).Kind != "lead_time_too_short" {
		t.Fatalf("expected 422 lead time, got %d: %s", rw.Code, rw.Body.String())
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T13:00:00Z"))))
	if rw.Code != http.StatusConflict || decodeError(t, rw).Kind != "slot_unavailable" {
		t.Fatalf("expected 409 slot unavailable, got %d: %s", rw.Code, rw.Body.String())
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodGet, "/api/v1/doctors/d1/stats", nil)))
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for patient stats, got %d", rw.Code)
	}

	rw = do(h, asDoctor(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/00000000-0000-0000-0000-000000000000/done", nil)))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	h := newServer(t)
	rw := do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T10:00:00Z"))))
	var created appointmentItem
	_ = json.Unmarshal(rw.Body.Bytes(), &created)
	base := "/api/v1/appointments/" + created.AppointmentID

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, base+"/reschedule",
		strings.NewReader(`{"start_time":"2026-03-02T11:00:00Z","end_time":"2026-03-02T11:30:00Z"}`))))
	if rw.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rw.Code, rw.Body.String())
	}

	rw = do(h, asDoctor(httptest.NewRequest(http.MethodPost, base+"/done", nil)))
	if rw.Code != http.StatusOK {
		t.Fatalf("done: %d %s", rw.Code, rw.Body.String())
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodPost, base+"/cancel", nil)))
	if rw.Code != http.StatusConflict || decodeError(t, rw).Kind != "conflict" {
		t.Fatalf("cancel after done: %d %s", rw.Code, rw.Body.String())
	}

	rw = do(h, asDoctor(httptest.NewRequest(http.MethodGet, "/api/v1/doctors/d1/stats?from=2026-03-02&to=2026-03-02&fee=40", nil)))
	if rw.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rw.Code, rw.Body.String())
	}
	var b stats.Bucket
	if err := json.Unmarshal(rw.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if b.Done != 1 || b.MinutesDone != 30 || b.RevenueEstimate == nil || *b.RevenueEstimate != 40 {
		t.Fatalf("unexpected stats %+v", b)
	}
}

func TestSlotsAndAgenda(t *testing.T) {
	h := newServer(t)
	do(h, asPatient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", createBody("2026-03-02T09:00:00Z"))))

	rw := do(h, asPatient(httptest.NewRequest(http.MethodGet, "/api/v1/doctors/d1/slots?date=2026-03-02&duration_minutes=60", nil)))
	if rw.Code != http.StatusOK {
		t.Fatalf("slots: %d %s", rw.Code, rw.Body.String())
	}
	var slots struct {
		Slots []slotItem `json:"slots"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 09:00 is taken; 10:00 and 11:00 remain.
	if len(slots.Slots) != 2 || slots.Slots[0].StartTime != "2026-03-02T10:00:00Z" {
		t.Fatalf("unexpected slots %+v", slots.Slots)
	}

	rw = do(h, asPatient(httptest.NewRequest(http.MethodGet, "/api/v1/doctors/d1/slots?date=03/02/2026", nil)))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rw.Code)
	}

	rw = do(h, asDoctor(httptest.NewRequest(http.MethodGet, "/api/v1/doctors/d1/agenda/weekly?from=2026-03-02", nil)))
	var week struct {
		Days []agendaDay `json:"days"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &week); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(week.Days) != 7 || len(week.Days[0].Items) != 1 {
		t.Fatalf("unexpected weekly agenda %+v", week.Days)
	}

	rw = do(h, asDoctor(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?limit=10", nil)))
	var list []appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %d items (%v)", len(list), err)
	}
}

func TestAuthenticatorJWT(t *testing.T) {
	claims := auth.NewClaims("u-doc", "doctor", time.Hour)
	claims.DoctorID = "d1"
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	a := NewAuthenticator(auth.Verifier{Secret: secret}, false)
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsDoctor("d1") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rw := do(h, req); rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	spoofed := asDoctor(httptest.NewRequest(http.MethodGet, "/", nil))
	if rw := do(h, spoofed); rw.Code != http.StatusUnauthorized {
		t.Fatalf("headers must be ignored unless trusted, got %d", rw.Code)
	}
}
