package scheduling

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Book turns an open slot into a PENDING appointment. The slot row is locked
// for the whole unit of work so concurrent bookings of it serialise, and the
// flag flip and the insert commit or roll back together.
func (s *Service) Book(ctx context.Context, slotID int64, requester Requester, patientID *int64, notes *string) (*Appointment, error) {
	if requester.Role != RolePatient && !requester.Role.Intermediary() {
		return nil, ErrForbidden
	}

	var created *Appointment

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidSlot
			}
			return fmt.Errorf("lock slot: %w", err)
		}
		if slot.IsBooked {
			return ErrAlreadyBooked
		}

		patient, err := s.resolvePatient(ctx, tx, requester, patientID)
		if err != nil {
			return err
		}

		if _, err := tx.MarkBooked(ctx, slot.ID); err != nil {
			if errors.Is(err, ErrAlreadyBooked) {
				return err
			}
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidSlot
			}
			return fmt.Errorf("mark slot booked: %w", err)
		}

		appt, err := tx.CreateAppointment(ctx, &Appointment{
			PatientID: patient,
			DoctorID:  slot.DoctorID,
			SlotID:    slot.ID,
			StartsAt:  slot.StartsAt,
			EndsAt:    slot.EndsAt,
			Notes:     normaliseNotes(notes),
			Status:    StatusPending,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.Int64("appointment_id", created.ID),
		zap.Int64("slot_id", created.SlotID),
		zap.Int64("patient_id", created.PatientID),
		zap.Int64("doctor_id", created.DoctorID),
	)

	s.emit(ctx, ActionAppointmentCreate, EntityAppointment, ptr(created.ID), requester.ID, map[string]any{
		"slotId":    created.SlotID,
		"patientId": created.PatientID,
		"doctorId":  created.DoctorID,
		"startsAt":  created.StartsAt,
	})

	return created, nil
}

func (s *Service) resolvePatient(ctx context.Context, tx Tx, requester Requester, patientID *int64) (int64, error) {
	if requester.Role == RolePatient {
		if patientID != nil && *patientID != requester.ID {
			return 0, ErrForbidden
		}
		return requester.ID, nil
	}

	if patientID == nil {
		return 0, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}

	u, err := tx.GetUser(ctx, *patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("%w: user %d does not exist", ErrInvalidInput, *patientID)
		}
		return 0, fmt.Errorf("load patient: %w", err)
	}
	if u.Role != RolePatient {
		return 0, fmt.Errorf("%w: user %d is not a %s", ErrInvalidInput, u.ID, RolePatient)
	}
	return u.ID, nil
}

func normaliseNotes(notes *string) *string {
	if notes == nil || *notes == "" {
		return nil
	}
	return notes
}
