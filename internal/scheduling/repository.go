package scheduling

import (
	"context"
	"time"
)

// Reader holds the queries that are safe outside a unit of work.
type Reader interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsersByRole(ctx context.Context, role Role, query string) ([]User, error)

	GetSlot(ctx context.Context, id int64) (*AvailabilitySlot, error)
	ListOpenSlots(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error)

	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
}

// SlotStore owns AvailabilitySlot rows.
type SlotStore interface {
	FindOverlapping(ctx context.Context, doctorID int64, start, end time.Time) (*AvailabilitySlot, error)
	CreateSlot(ctx context.Context, doctorID int64, start, end time.Time) (*AvailabilitySlot, error)
	// LockSlot reads the slot and holds an exclusive row lock until the unit of work ends.
	LockSlot(ctx context.Context, id int64) (*AvailabilitySlot, error)
	// MarkBooked flips is_booked only if it is still false.
	MarkBooked(ctx context.Context, id int64) (*AvailabilitySlot, error)
	DeleteOpenSlot(ctx context.Context, id int64) error
	DeleteOpenSlotsInRange(ctx context.Context, doctorID int64, from, to time.Time) (int64, error)
}

// AppointmentStore owns Appointment rows.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	LockAppointment(ctx context.Context, id int64) (*Appointment, error)
	// UpdateAppointmentStatus writes only when the stored status still equals from.
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus) (*Appointment, error)
}

// Tx is one unit of work. Nothing it writes is visible until the enclosing InTx returns nil.
type Tx interface {
	Reader
	SlotStore
	AppointmentStore
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditSink receives events after the business write has committed.
// Implementations must not block the caller on delivery failures.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}
