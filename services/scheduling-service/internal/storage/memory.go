package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
)

// MemoryStore keeps appointments in process memory. Writes of one doctor are serialized by a
// per-doctor lock and staged until the transaction callback succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	appts  map[string]model.Appointment
	events []outbox.Event

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appts: make(map[string]model.Appointment),
		locks: make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) doctorLock(doctorID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[doctorID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[doctorID] = l
	}
	return l
}

func (s *MemoryStore) InDoctorTx(ctx context.Context, doctorID string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.doctorLock(doctorID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return apperr.Storage("acquire doctor lock", ctx.Err())
	}
	defer func() { <-lock }()

	tx := &memTx{store: s, doctorID: doctorID, staged: make(map[string]model.Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Storage("commit", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.staged {
		s.appts[id] = a
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
	}
	return a, nil
}

func (s *MemoryStore) ListBooked(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bookedIn(s.appts, nil, doctorID, model.Interval{Start: from, End: to}), nil
}

func (s *MemoryStore) ListForDoctor(_ context.Context, doctorID string, page model.Page) ([]model.Appointment, error) {
	page = page.Normalize()
	s.mu.RLock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListInRange(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	s.mu.RLock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.DoctorID == doctorID && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) NextBooked(_ context.Context, doctorID string, after time.Time) (model.Appointment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var next model.Appointment
	found := false
	for _, a := range s.appts {
		if a.DoctorID != doctorID || a.Status != model.StatusBooked || a.StartTime.Before(after) {
			continue
		}
		if !found || a.StartTime.Before(next.StartTime) {
			next, found = a, true
		}
	}
	return next, found, nil
}

// Events returns the committed outbox events in commit order.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

type memTx struct {
	store    *MemoryStore
	doctorID string
	staged   map[string]model.Appointment
	events   []outbox.Event
}

func (t *memTx) ListBooked(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return bookedIn(t.store.appts, t.staged, doctorID, model.Interval{Start: from, End: to}), nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	t.store.mu.RLock()
	a, ok := t.store.appts[id]
	t.store.mu.RUnlock()
	if !ok || a.DoctorID != t.doctorID {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
	}
	return a, nil
}

func (t *memTx) Insert(ctx context.Context, appt model.Appointment) error {
	if _, err := t.GetForUpdate(ctx, appt.ID); err == nil {
		return apperr.Conflict("appointment %s already exists", appt.ID)
	}
	return t.put(appt)
}

func (t *memTx) Update(ctx context.Context, appt model.Appointment) error {
	if _, err := t.GetForUpdate(ctx, appt.ID); err != nil {
		return err
	}
	return t.put(appt)
}

// put enforces what the exclusion constraint enforces in Postgres.
func (t *memTx) put(appt model.Appointment) error {
	if appt.DoctorID != t.doctorID {
		return apperr.Validation("appointment %s does not belong to doctor %s", appt.ID, t.doctorID)
	}
	if appt.Status == model.StatusBooked {
		t.store.mu.RLock()
		others := bookedIn(t.store.appts, t.staged, appt.DoctorID, appt.Interval())
		t.store.mu.RUnlock()
		for _, o := range others {
			if o.ID != appt.ID {
				return apperr.New(apperr.KindOverlap, "appointment overlaps %s", o.ID)
			}
		}
	}
	t.staged[appt.ID] = appt
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

// bookedIn merges committed and staged appointments and returns the booked ones of doctorID
// intersecting span. Staged versions shadow committed ones.
func bookedIn(committed, staged map[string]model.Appointment, doctorID string, span model.Interval) []model.Appointment {
	var out []model.Appointment
	consider := func(a model.Appointment) {
		if a.DoctorID == doctorID && a.Status == model.StatusBooked && a.Interval().Overlaps(span) {
			out = append(out, a)
		}
	}
	for id, a := range committed {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		consider(a)
	}
	for _, a := range staged {
		consider(a)
	}
	sortByStart(out)
	return out
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
}
