package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ListOpenSlots is public; it needs no requester.
func (s *Service) ListOpenSlots(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, ErrInvalidRange
	}

	slots, err := s.store.ListOpenSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// GetAppointment returns the appointment if the requester may see it.
// Patients and doctors see only their own.
func (s *Service) GetAppointment(ctx context.Context, id int64, requester Requester) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !owns(appt, requester) {
		return nil, ErrForbidden
	}
	return appt, nil
}

func (s *Service) ListMyAppointments(ctx context.Context, requester Requester, status *AppointmentStatus) ([]Appointment, error) {
	f := AppointmentFilter{Status: status}

	switch requester.Role {
	case RolePatient:
		f.PatientID = ptr(requester.ID)
	case RoleDoctor:
		f.DoctorID = ptr(requester.ID)
	case RoleAttendant, RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) ListDoctorAgenda(ctx context.Context, requester Requester, doctorID int64, status *AppointmentStatus) ([]Appointment, error) {
	switch requester.Role {
	case RoleDoctor:
		if doctorID != requester.ID {
			return nil, ErrForbidden
		}
	case RoleAttendant, RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	appts, err := s.store.ListAppointments(ctx, AppointmentFilter{DoctorID: &doctorID, Status: status})
	if err != nil {
		return nil, fmt.Errorf("list doctor agenda: %w", err)
	}
	return appts, nil
}

func (s *Service) ListDoctors(ctx context.Context, query string) ([]User, error) {
	doctors, err := s.store.ListUsersByRole(ctx, RoleDoctor, query)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// ListPatients searches the patient directory by name or email.
// Doctors and intermediaries only.
func (s *Service) ListPatients(ctx context.Context, requester Requester, query string) ([]User, error) {
	if !canBrowsePatients(requester.Role) {
		return nil, ErrForbidden
	}

	patients, err := s.store.ListUsersByRole(ctx, RolePatient, query)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	s.emit(ctx, ActionPatientList, EntityUser, nil, requester.ID, map[string]any{"q": query})
	return patients, nil
}

// GetPatient returns one patient. Ids of non-patient users read as not found.
func (s *Service) GetPatient(ctx context.Context, requester Requester, patientID int64) (*User, error) {
	if !canBrowsePatients(requester.Role) {
		return nil, ErrForbidden
	}

	u, err := s.store.GetUser(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if u.Role != RolePatient {
		return nil, ErrNotFound
	}

	s.emit(ctx, ActionPatientView, EntityUser, ptr(patientID), requester.ID, nil)
	return u, nil
}

func canBrowsePatients(r Role) bool {
	return r == RoleDoctor || r.Intermediary()
}

// DeleteSlot removes an unbooked slot. Admin only.
func (s *Service) DeleteSlot(ctx context.Context, slotID int64, requester Requester) error {
	if requester.Role != RoleAdmin {
		return ErrForbidden
	}

	var doctorID int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock slot: %w", err)
		}
		if slot.IsBooked {
			return ErrAlreadyBooked
		}

		doctorID = slot.DoctorID
		return tx.DeleteOpenSlot(ctx, slot.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("slot deleted", zap.Int64("slot_id", slotID), zap.Int64("doctor_id", doctorID))

	s.emit(ctx, ActionSlotDelete, EntitySlot, ptr(slotID), requester.ID, map[string]any{
		"doctorId": doctorID,
	})
	return nil
}

// DeleteOpenSlotsInRange clears a doctor's unbooked slots that lie entirely
// inside [from, to). Booked slots are left alone. Admin only.
func (s *Service) DeleteOpenSlotsInRange(ctx context.Context, requester Requester, doctorID int64, from, to time.Time) (int64, error) {
	if requester.Role != RoleAdmin {
		return 0, ErrForbidden
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return 0, ErrInvalidRange
	}
	if err := s.requireRole(ctx, doctorID, RoleDoctor); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.withDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(ctx context.Context, tx Tx) error {
			n, err := tx.DeleteOpenSlotsInRange(ctx, doctorID, from.UTC(), to.UTC())
			if err != nil {
				return err
			}
			deleted = n
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("slot range deleted",
		zap.Int64("doctor_id", doctorID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int64("deleted", deleted),
	)

	s.emit(ctx, ActionSlotDeleteRange, EntityUser, ptr(doctorID), requester.ID, map[string]any{
		"doctorId": doctorID,
		"from":     from.UTC(),
		"to":       to.UTC(),
		"deleted":  deleted,
	})
	return deleted, nil
}
