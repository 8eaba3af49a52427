package models

import (
	"sort"
	"sync"
	"time"
)

// Lifecycle event labels recorded per job. Stages append these in wall-clock
// order but asynchronous stages can race, so finalization re-sorts.
const (
	MeasureRequestReceived = "request received"
	MeasureBeforeQueueAdd  = "before queue add"
	MeasurePoolTask        = "pool task"
	MeasurePreNavigation   = "pre-navigation"
	MeasurePageLoaded      = "page loaded"
	MeasureHandlerEnd      = "handler end"
	MeasureError           = "error"
	MeasureFailedRequest   = "failed request"
)

// TimeMeasure is one timestamped lifecycle event.
type TimeMeasure struct {
	Event string `json:"event"`
	Time  int64  `json:"time"`
}

// TimeMeasures is an append-only ordered list of lifecycle events owned by
// one job. Appends happen from the API goroutine and the pool worker, never
// concurrently for the same stage, but the mutex keeps it safe regardless.
type TimeMeasures struct {
	mu     sync.Mutex
	events []TimeMeasure
}

// Add appends an event stamped with the current wall clock.
func (m *TimeMeasures) Add(event string) {
	m.mu.Lock()
	m.events = append(m.events, TimeMeasure{Event: event, Time: time.Now().UnixMilli()})
	m.mu.Unlock()
}

// AddMeasure appends a pre-built measure (used by tests and cross-stage hooks).
func (m *TimeMeasures) AddMeasure(e TimeMeasure) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Relative finalizes the list for observability: every timestamp becomes an
// offset from the earliest event and the result is sorted ascending.
func (m *TimeMeasures) Relative() []TimeMeasure {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) == 0 {
		return nil
	}

	min := m.events[0].Time
	for _, e := range m.events[1:] {
		if e.Time < min {
			min = e.Time
		}
	}

	out := make([]TimeMeasure, len(m.events))
	for i, e := range m.events {
		out[i] = TimeMeasure{Event: e.Event, Time: e.Time - min}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
