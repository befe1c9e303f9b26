package schedulingtest

import (
	"context"
	"sync"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

// AuditLog keeps every recorded event in memory.
type AuditLog struct {
	mu     sync.Mutex
	events []scheduling.AuditEvent
}

func (l *AuditLog) Record(_ context.Context, ev scheduling.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *AuditLog) Events() []scheduling.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]scheduling.AuditEvent(nil), l.events...)
}

// Actions lists the recorded action names in order.
func (l *AuditLog) Actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Action)
	}
	return out
}
