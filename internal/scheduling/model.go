package scheduling

import (
	"fmt"
	"strings"
	"time"
)

type Role int

const (
	RolePatient Role = iota + 1
	RoleDoctor
	RoleAttendant
	RoleAdmin
)

// ParseRole accepts the canonical names and the legacy Portuguese aliases,
// ignoring case and surrounding whitespace.
func ParseRole(raw string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PATIENT", "PACIENTE":
		return RolePatient, nil
	case "DOCTOR", "MEDICO", "MÉDICO":
		return RoleDoctor, nil
	case "ATTENDANT", "ATENDENTE":
		return RoleAttendant, nil
	case "ADMIN":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

func (r Role) String() string {
	switch r {
	case RolePatient:
		return "PATIENT"
	case RoleDoctor:
		return "DOCTOR"
	case RoleAttendant:
		return "ATTENDANT"
	case RoleAdmin:
		return "ADMIN"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Intermediary reports whether the role schedules on behalf of patients and doctors.
func (r Role) Intermediary() bool {
	switch r {
	case RoleAttendant, RoleAdmin:
		return true
	case RolePatient, RoleDoctor:
		return false
	}
	return false
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// ParseStatus normalises case and accepts the single-L spelling used by older clients.
func ParseStatus(raw string) (AppointmentStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, nil
	case "CONFIRMED":
		return StatusConfirmed, nil
	case "CANCELLED", "CANCELED":
		return StatusCancelled, nil
	case "COMPLETED":
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Requester is the identity supplied by the auth layer. It is trusted as-is.
type Requester struct {
	ID   int64
	Role Role
}

type User struct {
	ID    int64
	Name  string
	Email string
	Role  Role
}

type AvailabilitySlot struct {
	ID        int64
	DoctorID  int64
	StartsAt  time.Time
	EndsAt    time.Time
	IsBooked  bool
	CreatedAt time.Time
}

// Overlaps uses half-open interval semantics.
func (s AvailabilitySlot) Overlaps(start, end time.Time) bool {
	return s.StartsAt.Before(end) && s.EndsAt.After(start)
}

type Appointment struct {
	ID        int64
	PatientID int64
	DoctorID  int64
	SlotID    int64
	StartsAt  time.Time
	EndsAt    time.Time
	Notes     *string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SlotFilter struct {
	DoctorID *int64
	From     *time.Time
	To       *time.Time
}

type AppointmentFilter struct {
	PatientID *int64
	DoctorID  *int64
	Status    *AppointmentStatus
}

// DayOpenings describes a batch of contiguous slots on one calendar day.
// Date is YYYY-MM-DD, StartTime and EndTime are HH:MM, all read as UTC.
type DayOpenings struct {
	DoctorID    *int64
	Date        string
	StartTime   string
	EndTime     string
	DurationMin int
}

type SkippedRange struct {
	StartsAt time.Time
	EndsAt   time.Time
	Reason   string
}

type BatchResult struct {
	Created []AvailabilitySlot
	Skipped []SkippedRange
}

const (
	ActionSlotCreate        = "SLOT_CREATE"
	ActionSlotBatchCreate   = "SLOT_BATCH_CREATE"
	ActionSlotDelete        = "SLOT_DELETE"
	ActionSlotDeleteRange   = "SLOT_DELETE_RANGE"
	ActionAppointmentCreate = "APPOINTMENT_CREATE"
	ActionStatusUpdate      = "APPOINTMENT_STATUS_UPDATE"
	ActionPatientList       = "PATIENT_LIST"
	ActionPatientView       = "PATIENT_VIEW"

	EntitySlot        = "AVAILABILITY_SLOT"
	EntityAppointment = "APPOINTMENT"
	EntityUser        = "USER"
)

type AuditEvent struct {
	Action     string
	EntityType string
	EntityID   *int64
	ActorID    int64
	Meta       map[string]any
	At         time.Time
}
