package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/blogpulse/internal/progress"
)

const (
	defaultRunLogRuns   = 50
	defaultRunLogEvents = 500
)

// RunLog keeps the most recent events of the most recent runs in memory.
// When a run exceeds its event budget the oldest non-terminal events go first.
type RunLog struct {
	mu        sync.RWMutex
	maxRuns   int
	maxEvents int
	order     []string
	events    map[string][]progress.Event
}

// NewRunLog retains up to maxRuns runs and maxEvents events per run.
func NewRunLog(maxRuns, maxEvents int) *RunLog {
	if maxRuns <= 0 {
		maxRuns = defaultRunLogRuns
	}
	if maxEvents <= 0 {
		maxEvents = defaultRunLogEvents
	}
	return &RunLog{
		maxRuns:   maxRuns,
		maxEvents: maxEvents,
		events:    make(map[string][]progress.Event),
	}
}

// Consume appends the batch to each event's run.
func (l *RunLog) Consume(_ context.Context, batch []progress.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, evt := range batch {
		events, ok := l.events[evt.RunID]
		if !ok {
			l.order = append(l.order, evt.RunID)
			for len(l.order) > l.maxRuns {
				delete(l.events, l.order[0])
				l.order = l.order[1:]
			}
		}
		events = append(events, evt)
		if len(events) > l.maxEvents {
			events = trimEvents(events, l.maxEvents)
		}
		l.events[evt.RunID] = events
	}
	return nil
}

// trimEvents keeps the run's first event and the newest events so the start
// marker survives.
func trimEvents(events []progress.Event, limit int) []progress.Event {
	if limit <= 1 {
		return events[len(events)-1:]
	}
	out := make([]progress.Event, 0, limit)
	out = append(out, events[0])
	return append(out, events[len(events)-limit+1:]...)
}

// Events returns a copy of the retained events for runID.
func (l *RunLog) Events(runID string) ([]progress.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events, ok := l.events[runID]
	if !ok {
		return nil, false
	}
	return append([]progress.Event(nil), events...), true
}

// Close implements the Sink interface; retained events stay readable.
func (l *RunLog) Close(context.Context) error {
	return nil
}
