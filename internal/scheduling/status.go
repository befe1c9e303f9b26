package scheduling

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type actor int

const (
	actorIntermediary actor = iota
	actorOwningPatient
	actorOwningDoctor
)

type transition struct {
	from AppointmentStatus
	to   AppointmentStatus
}

var transitionActors = map[transition][]actor{
	{StatusPending, StatusConfirmed}:   {actorIntermediary},
	{StatusPending, StatusCancelled}:   {actorIntermediary, actorOwningPatient},
	{StatusConfirmed, StatusCompleted}: {actorOwningDoctor},
	{StatusConfirmed, StatusCancelled}: {actorOwningDoctor},
}

func actorFor(role Role) (actor, bool) {
	switch role {
	case RoleAttendant, RoleAdmin:
		return actorIntermediary, true
	case RolePatient:
		return actorOwningPatient, true
	case RoleDoctor:
		return actorOwningDoctor, true
	}
	return 0, false
}

// CanTransition reports whether role may move an appointment from one status
// to another, ignoring ownership.
func CanTransition(from, to AppointmentStatus, role Role) bool {
	a, ok := actorFor(role)
	if !ok {
		return false
	}
	for _, allowed := range transitionActors[transition{from, to}] {
		if allowed == a {
			return true
		}
	}
	return false
}

func owns(a *Appointment, requester Requester) bool {
	switch requester.Role {
	case RolePatient:
		return a.PatientID == requester.ID
	case RoleDoctor:
		return a.DoctorID == requester.ID
	case RoleAttendant, RoleAdmin:
		return true
	}
	return false
}

// SetStatus applies a role-gated status change.
func (s *Service) SetStatus(ctx context.Context, appointmentID int64, requested AppointmentStatus, requester Requester) (*Appointment, error) {
	var (
		from    AppointmentStatus
		updated *Appointment
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock appointment: %w", err)
		}

		if !CanTransition(appt.Status, requested, requester.Role) {
			return ErrInvalidTransition
		}
		if !owns(appt, requester) {
			return ErrForbidden
		}

		from = appt.Status
		updated, err = tx.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, requested)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return err
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment status changed",
		zap.Int64("appointment_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.Int64("actor_id", requester.ID),
	)

	s.emit(ctx, ActionStatusUpdate, EntityAppointment, ptr(updated.ID), requester.ID, map[string]any{
		"from": string(from),
		"to":   string(updated.Status),
	})

	return updated, nil
}
