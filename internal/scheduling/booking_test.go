package scheduling_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

func TestBook_PatientBooksOpenSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	appt, err := f.svc.Book(context.Background(), slot.ID, as(f.patient), nil, str("bring exams"))
	require.NoError(t, err)

	assert.Equal(t, scheduling.StatusPending, appt.Status)
	assert.Equal(t, f.patient.ID, appt.PatientID)
	assert.Equal(t, f.doctor.ID, appt.DoctorID)
	assert.Equal(t, slot.ID, appt.SlotID)
	assert.True(t, appt.StartsAt.Equal(slot.StartsAt))
	assert.True(t, appt.EndsAt.Equal(slot.EndsAt))
	require.NotNil(t, appt.Notes)
	assert.Equal(t, "bring exams", *appt.Notes)

	stored := f.store.Slots()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsBooked)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, scheduling.ActionAppointmentCreate, events[0].Action)
	assert.Equal(t, scheduling.EntityAppointment, events[0].EntityType)
	require.NotNil(t, events[0].EntityID)
	assert.Equal(t, appt.ID, *events[0].EntityID)
	assert.Equal(t, f.patient.ID, events[0].ActorID)
}

func TestBook_SecondBookingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	_, err := f.svc.Book(ctx, slot.ID, as(f.patient), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, slot.ID, as(f.attendant), id(f.otherPatient.ID), nil)
	require.ErrorIs(t, err, scheduling.ErrAlreadyBooked)

	assert.Len(t, f.store.Appointments(), 1)
}

func TestBook_UnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), 424242, as(f.patient), nil, nil)
	require.ErrorIs(t, err, scheduling.ErrInvalidSlot)
}

func TestBook_Authorization(t *testing.T) {
	tests := []struct {
		name        string
		requester   func(f *fixture) scheduling.Requester
		patientID   func(f *fixture) *int64
		wantErr     error
		wantPatient func(f *fixture) int64
	}{
		{
			name:      "doctor",
			requester: func(f *fixture) scheduling.Requester { return as(f.doctor) },
			patientID: func(f *fixture) *int64 { return id(f.patient.ID) },
			wantErr:   scheduling.ErrForbidden,
		},
		{
			name:      "patient booking for someone else",
			requester: func(f *fixture) scheduling.Requester { return as(f.patient) },
			patientID: func(f *fixture) *int64 { return id(f.otherPatient.ID) },
			wantErr:   scheduling.ErrForbidden,
		},
		{
			name:        "patient naming self",
			requester:   func(f *fixture) scheduling.Requester { return as(f.patient) },
			patientID:   func(f *fixture) *int64 { return id(f.patient.ID) },
			wantPatient: func(f *fixture) int64 { return f.patient.ID },
		},
		{
			name:      "attendant without patient",
			requester: func(f *fixture) scheduling.Requester { return as(f.attendant) },
			patientID: func(f *fixture) *int64 { return nil },
			wantErr:   scheduling.ErrInvalidInput,
		},
		{
			name:      "attendant naming a doctor",
			requester: func(f *fixture) scheduling.Requester { return as(f.attendant) },
			patientID: func(f *fixture) *int64 { return id(f.doctor.ID) },
			wantErr:   scheduling.ErrInvalidInput,
		},
		{
			name:      "attendant naming unknown user",
			requester: func(f *fixture) scheduling.Requester { return as(f.attendant) },
			patientID: func(f *fixture) *int64 { return id(9999) },
			wantErr:   scheduling.ErrInvalidInput,
		},
		{
			name:        "attendant naming a patient",
			requester:   func(f *fixture) scheduling.Requester { return as(f.attendant) },
			patientID:   func(f *fixture) *int64 { return id(f.otherPatient.ID) },
			wantPatient: func(f *fixture) int64 { return f.otherPatient.ID },
		},
		{
			name:        "admin naming a patient",
			requester:   func(f *fixture) scheduling.Requester { return as(f.admin) },
			patientID:   func(f *fixture) *int64 { return id(f.patient.ID) },
			wantPatient: func(f *fixture) int64 { return f.patient.ID },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

			appt, err := f.svc.Book(context.Background(), slot.ID, tt.requester(f), tt.patientID(f), nil)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, f.store.Slots()[0].IsBooked)
				assert.Empty(t, f.store.Appointments())
				assert.Empty(t, f.audit.Events())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPatient(f), appt.PatientID)
		})
	}
}

func TestBook_FailedInsertRollsBackSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	boom := errors.New("connection reset")
	f.store.FailCreateAppointment = boom

	_, err := f.svc.Book(context.Background(), slot.ID, as(f.patient), nil, nil)
	require.ErrorIs(t, err, boom)

	assert.False(t, f.store.Slots()[0].IsBooked)
	assert.Empty(t, f.store.Appointments())
	assert.Empty(t, f.audit.Events())

	// the slot is still bookable once the store recovers
	f.store.FailCreateAppointment = nil
	_, err = f.svc.Book(context.Background(), slot.ID, as(f.patient), nil, nil)
	require.NoError(t, err)
}

func TestBook_CancelledContextDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Book(ctx, slot.ID, as(f.patient), nil, nil)
	require.ErrorIs(t, err, context.Canceled)

	assert.False(t, f.store.Slots()[0].IsBooked)
	assert.Empty(t, f.store.Appointments())
}

func TestBook_EmptyNotesStoredAsNil(t *testing.T) {
	f := newFixture(t)
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	appt, err := f.svc.Book(context.Background(), slot.ID, as(f.patient), nil, str(""))
	require.NoError(t, err)
	assert.Nil(t, appt.Notes)
}

func TestBook_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.store.AddSlot(f.doctor.ID, at(9, 0), at(9, 30))

	const workers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		unrelated []error
	)

	for i := 0; i < workers; i++ {
		requester := as(f.attendant)
		patient := f.patient.ID
		if i%2 == 0 {
			patient = f.otherPatient.ID
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.svc.Book(ctx, slot.ID, requester, &patient, nil)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, scheduling.ErrAlreadyBooked):
				conflicts++
			default:
				unrelated = append(unrelated, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unrelated)
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.store.Appointments(), 1)
	assert.Equal(t, []string{scheduling.ActionAppointmentCreate}, f.audit.Actions())
}
