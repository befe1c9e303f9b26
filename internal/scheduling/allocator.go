package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/homecare-scheduling/internal/redis"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// NewSlot is a single-slot allocation request. A zero instant counts as missing.
type NewSlot struct {
	DoctorID *int64
	StartsAt time.Time
	EndsAt   time.Time
}

// CreateSlot publishes one availability window for a doctor.
func (s *Service) CreateSlot(ctx context.Context, req NewSlot, requester Requester) (*AvailabilitySlot, error) {
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		return nil, ErrInvalidRange
	}

	doctorID, err := s.resolveDoctor(ctx, requester, req.DoctorID)
	if err != nil {
		return nil, err
	}

	start, end := req.StartsAt.UTC(), req.EndsAt.UTC()

	var created *AvailabilitySlot
	err = s.withDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		slot, err := s.insertSlot(lockCtx, doctorID, start, end)
		if err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("slot created",
		zap.Int64("slot_id", created.ID),
		zap.Int64("doctor_id", doctorID),
		zap.Time("starts_at", created.StartsAt),
	)

	s.emit(ctx, ActionSlotCreate, EntitySlot, ptr(created.ID), requester.ID, map[string]any{
		"doctorId": doctorID,
		"startsAt": created.StartsAt,
		"endsAt":   created.EndsAt,
	})

	return created, nil
}

// CreateDayOpenings tiles one day into contiguous slots. Overlapping pieces are
// reported as skipped and the rest of the day is still allocated.
func (s *Service) CreateDayOpenings(ctx context.Context, req DayOpenings, requester Requester) (*BatchResult, error) {
	ranges, err := tileDay(req)
	if err != nil {
		return nil, err
	}

	doctorID, err := s.resolveDoctor(ctx, requester, req.DoctorID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Created: []AvailabilitySlot{},
		Skipped: []SkippedRange{},
	}

	err = s.withDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		for _, r := range ranges {
			slot, err := s.insertSlot(lockCtx, doctorID, r.StartsAt, r.EndsAt)
			if err != nil {
				var overlap *OverlapError
				if errors.As(err, &overlap) {
					result.Skipped = append(result.Skipped, SkippedRange{
						StartsAt: r.StartsAt,
						EndsAt:   r.EndsAt,
						Reason:   skipReason(overlap),
					})
					continue
				}
				return err
			}
			result.Created = append(result.Created, *slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("day openings created",
		zap.Int64("doctor_id", doctorID),
		zap.String("date", req.Date),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
	)

	s.emit(ctx, ActionSlotBatchCreate, EntityUser, ptr(doctorID), requester.ID, map[string]any{
		"doctorId":    doctorID,
		"date":        req.Date,
		"startTime":   req.StartTime,
		"endTime":     req.EndTime,
		"durationMin": req.DurationMin,
		"created":     len(result.Created),
		"skipped":     len(result.Skipped),
	})

	return result, nil
}

// resolveDoctor decides whose agenda an allocation targets.
func (s *Service) resolveDoctor(ctx context.Context, requester Requester, doctorID *int64) (int64, error) {
	switch {
	case requester.Role == RoleDoctor:
		if doctorID != nil && *doctorID != requester.ID {
			return 0, ErrForbidden
		}
		return requester.ID, nil

	case requester.Role.Intermediary():
		if doctorID == nil {
			return 0, fmt.Errorf("%w: doctorId is required", ErrInvalidInput)
		}
		if err := s.requireRole(ctx, *doctorID, RoleDoctor); err != nil {
			return 0, err
		}
		return *doctorID, nil

	default:
		return 0, ErrForbidden
	}
}

// requireRole checks that id names a directory user holding role.
func (s *Service) requireRole(ctx context.Context, id int64, role Role) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: user %d does not exist", ErrInvalidInput, id)
		}
		return fmt.Errorf("load user: %w", err)
	}
	if u.Role != role {
		return fmt.Errorf("%w: user %d is not a %s", ErrInvalidInput, id, role)
	}
	return nil
}

func (s *Service) withDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	err := s.locker.WithDoctorLock(ctx, doctorID, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.logger.Warn("doctor lock busy", zap.Int64("doctor_id", doctorID))
		return ErrAllocationBusy
	case errors.Is(err, redisclient.ErrLockLost):
		s.logger.Warn("doctor lock lost mid-allocation", zap.Int64("doctor_id", doctorID), zap.Error(err))
		return ErrAllocationBusy
	}
	return err
}

// insertSlot must run under the doctor lock. The exclusion constraint still
// rejects overlaps that slip past the check.
func (s *Service) insertSlot(ctx context.Context, doctorID int64, start, end time.Time) (*AvailabilitySlot, error) {
	var created *AvailabilitySlot

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.FindOverlapping(ctx, doctorID, start, end)
		if err != nil {
			return fmt.Errorf("find overlapping slot: %w", err)
		}
		if existing != nil {
			return &OverlapError{DoctorID: doctorID, StartsAt: start, EndsAt: end, Existing: existing}
		}

		slot, err := tx.CreateSlot(ctx, doctorID, start, end)
		if err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

type timeRange struct {
	StartsAt time.Time
	EndsAt   time.Time
}

func tileDay(req DayOpenings) ([]timeRange, error) {
	if req.DurationMin <= 0 {
		return nil, fmt.Errorf("%w: durationMin must be positive", ErrInvalidInput)
	}

	day, err := time.ParseInLocation(dateLayout, req.Date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	from, err := time.ParseInLocation(clockLayout, req.StartTime, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: startTime must be HH:MM", ErrInvalidInput)
	}
	to, err := time.ParseInLocation(clockLayout, req.EndTime, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: endTime must be HH:MM", ErrInvalidInput)
	}
	if !to.After(from) {
		return nil, ErrInvalidRange
	}

	start := day.Add(time.Duration(from.Hour())*time.Hour + time.Duration(from.Minute())*time.Minute)
	end := day.Add(time.Duration(to.Hour())*time.Hour + time.Duration(to.Minute())*time.Minute)
	step := time.Duration(req.DurationMin) * time.Minute

	var ranges []timeRange
	for cur := start; !cur.Add(step).After(end); cur = cur.Add(step) {
		ranges = append(ranges, timeRange{StartsAt: cur, EndsAt: cur.Add(step)})
	}
	return ranges, nil
}

func skipReason(overlap *OverlapError) string {
	if overlap.Existing != nil {
		return fmt.Sprintf("overlaps slot %d", overlap.Existing.ID)
	}
	return "overlaps an existing slot"
}
