package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

type inserter interface {
	Insert(ctx context.Context, ev scheduling.AuditEvent) error
}

// Recorder is the scheduling audit sink. Record only enqueues; a background
// worker writes the events. A full queue or a failed write is logged and the
// event is dropped.
type Recorder struct {
	store   inserter
	logger  *zap.Logger
	timeout time.Duration

	queue  chan scheduling.AuditEvent
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ scheduling.AuditSink = (*Recorder)(nil)

type RecorderOption func(*Recorder)

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan scheduling.AuditEvent, n)
		}
	}
}

func WithInsertTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder starts the writer goroutine. Call Close to flush it.
func NewRecorder(store inserter, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logger,
		timeout: 3 * time.Second,
		queue:   make(chan scheduling.AuditEvent, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r
}

func (r *Recorder) Record(_ context.Context, ev scheduling.AuditEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop("audit recorder closed, event dropped", ev, nil)
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.drop("audit queue full, event dropped", ev, nil)
	}
}

// Close stops accepting events and waits until the queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	for ev := range r.queue {
		r.write(ev)
	}
}

func (r *Recorder) write(ev scheduling.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Insert(ctx, ev); err != nil {
		r.drop("audit event dropped", ev, err)
	}
}

func (r *Recorder) drop(msg string, ev scheduling.AuditEvent, err error) {
	fields := []zap.Field{
		zap.String("action", ev.Action),
		zap.String("entity_type", ev.EntityType),
		zap.Int64("actor_id", ev.ActorID),
	}
	if ev.EntityID != nil {
		fields = append(fields, zap.Int64("entity_id", *ev.EntityID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn(msg, fields...)
}
