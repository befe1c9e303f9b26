// Package schedulingtest provides in-memory doubles for the scheduling store
// and audit sink. Units of work are serialised and rolled back on error.
package schedulingtest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

type state struct {
	users        map[int64]scheduling.User
	slots        map[int64]scheduling.AvailabilitySlot
	appointments map[int64]scheduling.Appointment
	nextUserID   int64
	nextSlotID   int64
	nextApptID   int64
}

func (st *state) clone() state {
	return state{
		users:        maps.Clone(st.users),
		slots:        maps.Clone(st.slots),
		appointments: maps.Clone(st.appointments),
		nextUserID:   st.nextUserID,
		nextSlotID:   st.nextSlotID,
		nextApptID:   st.nextApptID,
	}
}

type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time

	// FailCreateAppointment, when set, is returned by CreateAppointment.
	FailCreateAppointment error
	// FailCreateSlot, when set, is consulted by CreateSlot before inserting.
	FailCreateSlot func(start time.Time) error
}

var _ scheduling.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		st: state{
			users:        map[int64]scheduling.User{},
			slots:        map[int64]scheduling.AvailabilitySlot{},
			appointments: map[int64]scheduling.Appointment{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// AddUser inserts a directory row and returns it with its assigned id.
func (s *Store) AddUser(name string, role scheduling.Role) scheduling.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.nextUserID++
	u := scheduling.User{
		ID:    s.st.nextUserID,
		Name:  name,
		Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Role:  role,
	}
	s.st.users[u.ID] = u
	return u
}

// AddSlot inserts a slot directly, bypassing the allocator.
func (s *Store) AddSlot(doctorID int64, start, end time.Time) scheduling.AvailabilitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := (&tx{s: s}).CreateSlot(context.Background(), doctorID, start, end)
	if err != nil {
		panic(fmt.Sprintf("schedulingtest: add slot: %v", err))
	}
	return *slot
}

// Slots returns every stored slot ordered by id.
func (s *Store) Slots() []scheduling.AvailabilitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scheduling.AvailabilitySlot, 0, len(s.st.slots))
	for _, sl := range s.st.slots {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Appointments returns every stored appointment ordered by id.
func (s *Store) Appointments() []scheduling.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scheduling.Appointment, 0, len(s.st.appointments))
	for _, a := range s.st.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()

	err := fn(ctx, &tx{s: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*scheduling.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).GetUser(ctx, id)
}

func (s *Store) ListUsersByRole(ctx context.Context, role scheduling.Role, query string) ([]scheduling.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListUsersByRole(ctx, role, query)
}

func (s *Store) GetSlot(ctx context.Context, id int64) (*scheduling.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).GetSlot(ctx, id)
}

func (s *Store) ListOpenSlots(ctx context.Context, f scheduling.SlotFilter) ([]scheduling.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListOpenSlots(ctx, f)
}

func (s *Store) GetAppointment(ctx context.Context, id int64) (*scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).GetAppointment(ctx, id)
}

func (s *Store) ListAppointments(ctx context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListAppointments(ctx, f)
}

// tx operates on the store state; the caller holds s.mu.
type tx struct {
	s *Store
}

func (t *tx) GetUser(_ context.Context, id int64) (*scheduling.User, error) {
	u, ok := t.s.st.users[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	return &u, nil
}

func (t *tx) ListUsersByRole(_ context.Context, role scheduling.Role, query string) ([]scheduling.User, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	var out []scheduling.User
	for _, u := range t.s.st.users {
		if u.Role != role {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) && !strings.Contains(strings.ToLower(u.Email), q) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) GetSlot(_ context.Context, id int64) (*scheduling.AvailabilitySlot, error) {
	sl, ok := t.s.st.slots[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	return &sl, nil
}

func (t *tx) ListOpenSlots(_ context.Context, f scheduling.SlotFilter) ([]scheduling.AvailabilitySlot, error) {
	var out []scheduling.AvailabilitySlot
	for _, sl := range t.s.st.slots {
		if sl.IsBooked {
			continue
		}
		if f.DoctorID != nil && sl.DoctorID != *f.DoctorID {
			continue
		}
		if f.From != nil && sl.StartsAt.Before(*f.From) {
			continue
		}
		if f.To != nil && sl.EndsAt.After(*f.To) {
			continue
		}
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (t *tx) FindOverlapping(_ context.Context, doctorID int64, start, end time.Time) (*scheduling.AvailabilitySlot, error) {
	var found *scheduling.AvailabilitySlot
	for _, sl := range t.s.st.slots {
		if sl.DoctorID != doctorID || !sl.Overlaps(start, end) {
			continue
		}
		if found == nil || sl.StartsAt.Before(found.StartsAt) {
			sl := sl
			found = &sl
		}
	}
	return found, nil
}

func (t *tx) CreateSlot(ctx context.Context, doctorID int64, start, end time.Time) (*scheduling.AvailabilitySlot, error) {
	if t.s.FailCreateSlot != nil {
		if err := t.s.FailCreateSlot(start); err != nil {
			return nil, err
		}
	}
	if !start.Before(end) {
		return nil, errors.New("schedulingtest: starts_at must precede ends_at")
	}

	// mirrors the exclusion constraint
	if existing, _ := t.FindOverlapping(ctx, doctorID, start, end); existing != nil {
		return nil, &scheduling.OverlapError{DoctorID: doctorID, StartsAt: start, EndsAt: end}
	}

	t.s.st.nextSlotID++
	sl := scheduling.AvailabilitySlot{
		ID:        t.s.st.nextSlotID,
		DoctorID:  doctorID,
		StartsAt:  start.UTC(),
		EndsAt:    end.UTC(),
		CreatedAt: t.s.now(),
	}
	t.s.st.slots[sl.ID] = sl
	return &sl, nil
}

func (t *tx) LockSlot(ctx context.Context, id int64) (*scheduling.AvailabilitySlot, error) {
	return t.GetSlot(ctx, id)
}

func (t *tx) MarkBooked(_ context.Context, id int64) (*scheduling.AvailabilitySlot, error) {
	sl, ok := t.s.st.slots[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	if sl.IsBooked {
		return nil, scheduling.ErrAlreadyBooked
	}
	sl.IsBooked = true
	t.s.st.slots[id] = sl
	return &sl, nil
}

func (t *tx) DeleteOpenSlot(_ context.Context, id int64) error {
	sl, ok := t.s.st.slots[id]
	if !ok {
		return scheduling.ErrNotFound
	}
	if sl.IsBooked {
		return scheduling.ErrAlreadyBooked
	}
	delete(t.s.st.slots, id)
	return nil
}

func (t *tx) DeleteOpenSlotsInRange(_ context.Context, doctorID int64, from, to time.Time) (int64, error) {
	var n int64
	for id, sl := range t.s.st.slots {
		if sl.DoctorID != doctorID || sl.IsBooked {
			continue
		}
		if sl.StartsAt.Before(from) || sl.EndsAt.After(to) {
			continue
		}
		delete(t.s.st.slots, id)
		n++
	}
	return n, nil
}

func (t *tx) GetAppointment(_ context.Context, id int64) (*scheduling.Appointment, error) {
	a, ok := t.s.st.appointments[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	return &a, nil
}

func (t *tx) ListAppointments(_ context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	var out []scheduling.Appointment
	for _, a := range t.s.st.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (t *tx) CreateAppointment(_ context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error) {
	if t.s.FailCreateAppointment != nil {
		return nil, t.s.FailCreateAppointment
	}
	for _, existing := range t.s.st.appointments {
		if existing.SlotID == a.SlotID {
			return nil, fmt.Errorf("schedulingtest: slot %d already has appointment %d", a.SlotID, existing.ID)
		}
	}

	now := t.s.now()
	t.s.st.nextApptID++

	created := *a
	created.ID = t.s.st.nextApptID
	created.CreatedAt = now
	created.UpdatedAt = now
	t.s.st.appointments[created.ID] = created
	return &created, nil
}

func (t *tx) LockAppointment(ctx context.Context, id int64) (*scheduling.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *tx) UpdateAppointmentStatus(_ context.Context, id int64, from, to scheduling.AppointmentStatus) (*scheduling.Appointment, error) {
	a, ok := t.s.st.appointments[id]
	if !ok || a.Status != from {
		return nil, scheduling.ErrInvalidTransition
	}
	a.Status = to
	a.UpdatedAt = t.s.now()
	t.s.st.appointments[id] = a
	return &a, nil
}
