package scheduling_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	redisclient "github.com/hackgods/homecare-scheduling/internal/redis"
	"github.com/hackgods/homecare-scheduling/internal/scheduling"
	"github.com/hackgods/homecare-scheduling/internal/scheduling/schedulingtest"
)

var day = time.Date(2030, time.January, 15, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixture struct {
	store *schedulingtest.Store
	audit *schedulingtest.AuditLog
	svc   *scheduling.Service

	doctor       scheduling.User
	otherDoctor  scheduling.User
	patient      scheduling.User
	otherPatient scheduling.User
	attendant    scheduling.User
	admin        scheduling.User
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLocker(t, redisclient.NewLocalLocker())
}

func newFixtureWithLocker(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	store := schedulingtest.NewStore()
	audit := &schedulingtest.AuditLog{}

	f := &fixture{
		store:        store,
		audit:        audit,
		doctor:       store.AddUser("Ana Souza", scheduling.RoleDoctor),
		otherDoctor:  store.AddUser("Bruno Lima", scheduling.RoleDoctor),
		patient:      store.AddUser("Carla Dias", scheduling.RolePatient),
		otherPatient: store.AddUser("Diego Alves", scheduling.RolePatient),
		attendant:    store.AddUser("Elisa Rocha", scheduling.RoleAttendant),
		admin:        store.AddUser("Fabio Nunes", scheduling.RoleAdmin),
	}

	f.svc = scheduling.NewService(store, locker, audit, zaptest.NewLogger(t),
		scheduling.WithClock(func() time.Time { return at(8, 0) }),
	)
	return f
}

func as(u scheduling.User) scheduling.Requester {
	return scheduling.Requester{ID: u.ID, Role: u.Role}
}

func id(v int64) *int64 {
	return &v
}

func str(v string) *string {
	return &v
}

// bookedAppointment books a fresh 09:00 slot for f.patient.
func (f *fixture) bookedAppointment(t *testing.T) *scheduling.Appointment {
	t.Helper()

	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))
	appt, err := f.svc.Book(context.Background(), slot.ID, as(f.patient), nil, nil)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

// busyLocker reports every doctor lock as held elsewhere.
type busyLocker struct{}

func (busyLocker) WithDoctorLock(context.Context, int64, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// lostLocker grants the lock but lets a test revoke it while fn runs.
type lostLocker struct {
	lose context.CancelCauseFunc
}

func (l *lostLocker) WithDoctorLock(ctx context.Context, _ int64, fn func(context.Context) error) error {
	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	l.lose = cancel

	err := fn(lockCtx)
	if err != nil && errors.Is(context.Cause(lockCtx), redisclient.ErrLockLost) {
		return fmt.Errorf("%w: %v", redisclient.ErrLockLost, err)
	}
	return err
}
