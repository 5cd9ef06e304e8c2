// Package audit keeps a bounded, append-only record of security-relevant
// events. The in-memory ring is authoritative; an optional durable sink is a
// best-effort collaborator whose failures are counted, never propagated.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/A1anMc/MOVEMBER-sub002/internal/ids"
	"github.com/A1anMc/MOVEMBER-sub002/internal/obs"
)

// SystemActor is the actor recorded for events not attributable to a user.
const SystemActor = "system"

// DefaultRetention is the number of most-recent events kept in memory.
const DefaultRetention = 1000

// Event is an immutable record of a security-relevant action.
type Event struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	OccurredAt time.Time      `json:"occurred_at"`
	Success    bool           `json:"success"`
	Details    map[string]any `json:"details,omitempty"`
}

// Sink receives events for durable storage outside process memory.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Actor   string
	Action  string
	Success *bool
	Since   time.Time
}

// Log is a FIFO-evicted ring of the K most recent events.
type Log struct {
	mu       sync.Mutex
	events   []Event
	head     int // index of the oldest event
	count    int
	capacity int

	sink Sink
	now  func() time.Time
}

// Option configures Log.
type Option func(*Log)

// WithSink attaches a durable sink. Sink errors are swallowed and surfaced
// through the auth_audit_sink_failures_total metric.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog constructs a Log retaining at most capacity events.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	l := &Log{
		events:   make([]Event, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records the event, evicting the oldest entry when full. It assigns
// the id and timestamp, restricts details to primitive values, and never
// fails: a sink error increments a counter and is otherwise ignored.
func (l *Log) Append(ctx context.Context, e Event) Event {
	if strings.TrimSpace(e.Actor) == "" {
		e.Actor = SystemActor
	}
	e.ID = ids.New()
	e.OccurredAt = l.now().UTC()
	e.Details = sanitizeDetails(e.Details)

	l.mu.Lock()
	tail := (l.head + l.count) % l.capacity
	l.events[tail] = e
	if l.count == l.capacity {
		l.head = (l.head + 1) % l.capacity
	} else {
		l.count++
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(ctx, e); err != nil {
			obs.AuditSinkFailure()
			obs.LogEvent(map[string]any{
				"ts":    e.OccurredAt.Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "audit sink append failed",
				"event": e.Action,
				"error": err.Error(),
			})
		}
	}
	return e
}

// Query returns up to limit matching events, newest first.
func (l *Log) Query(f Filter, limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, 0, limit)
	for i := l.count - 1; i >= 0 && len(out) < limit; i-- {
		e := l.events[(l.head+i)%l.capacity]
		if !matches(f, e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func matches(f Filter, e Event) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}

// sanitizeDetails copies the map keeping only primitive, serializable values.
// Timestamps become RFC3339 strings; anything else is stringified so the
// record's shape stays analyzable.
func sanitizeDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		switch t := v.(type) {
		case nil:
			continue
		case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
			out[k] = t
		case time.Time:
			out[k] = t.UTC().Format(time.RFC3339Nano)
		case time.Duration:
			out[k] = t.String()
		case fmt.Stringer:
			out[k] = t.String()
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
