package scheduling

import (
	"context"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/homecare-scheduling/internal/redis"
)

type Service struct {
	store  Store
	locker redisclient.Locker
	audit  AuditSink
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces the UTC wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, locker redisclient.Locker, audit AuditSink, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:  store,
		locker: locker,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// emit hands an event to the sink once the business write has committed.
// The sink swallows its own failures.
func (s *Service) emit(ctx context.Context, action, entity string, entityID *int64, actor int64, meta map[string]any) {
	if s.audit == nil {
		return
	}

	s.audit.Record(context.WithoutCancel(ctx), AuditEvent{
		Action:     action,
		EntityType: entity,
		EntityID:   entityID,
		ActorID:    actor,
		Meta:       meta,
		At:         s.now(),
	})
}

func ptr[T any](v T) *T {
	return &v
}
