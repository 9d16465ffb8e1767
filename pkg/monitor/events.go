package monitor

import (
	"context"
	"sync"

	"github.com/teslashibe/fallwatch/pkg/notify"
)

// EventRecord is an accepted fall as shown on the dashboard.
type EventRecord struct {
	notify.Alert
	// Dispatched is false when the alert was dropped because a previous
	// notification was still in flight.
	Dispatched bool `json:"dispatched"`
}

// EventStore persists accepted events across restarts.
type EventStore interface {
	SaveEvent(ctx context.Context, rec EventRecord) error
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
}

// eventLog is a fixed-size ring of recent events.
type eventLog struct {
	mu    sync.RWMutex
	buf   []EventRecord
	next  int
	full  bool
	total uint64
}

func newEventLog(size int) *eventLog {
	return &eventLog{buf: make([]EventRecord, size)}
}

func (l *eventLog) add(r EventRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = r
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// load seeds the ring from records ordered newest first. Loaded records
// do not count towards total.
func (l *eventLog) load(records []EventRecord) {
	total := l.count()
	for i := len(records) - 1; i >= 0; i-- {
		l.add(records[i])
	}
	l.mu.Lock()
	l.total = total
	l.mu.Unlock()
}

// recent returns up to limit events, newest first. limit <= 0 means all.
func (l *eventLog) recent(limit int) []EventRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]EventRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

func (l *eventLog) count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
