// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"sync"
	"time"
)

// DefaultEventCapacity is the number of events an EventLog retains
// when no capacity is given.
const DefaultEventCapacity = 256

// EventKind names a validity transition.
type EventKind string

const (
	EventInvalidated EventKind = "invalidated"
	EventRestored    EventKind = "restored"
)

// Event is one validity transition.
type Event struct {
	Sequence uint64    `json:"sequence"`
	At       time.Time `json:"at"`
	Kind     EventKind `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
}

// EventLog is a fixed-capacity circular log of events with sequence
// number tracking. Sequence numbers start at 1 and never repeat; when
// the log is full the oldest event is overwritten.
//
// All methods are safe for concurrent use.
type EventLog struct {
	mutex    sync.Mutex
	events   []Event
	capacity int
	// total is the number of events ever appended, which is also the
	// sequence of the newest one.
	total uint64
}

// NewEventLog creates a log holding up to capacity events. A
// non-positive capacity uses DefaultEventCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventLog{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// Append assigns the next sequence number to event, stores it and
// returns the stored copy.
func (log *EventLog) Append(event Event) Event {
	log.mutex.Lock()
	defer log.mutex.Unlock()

	log.total++
	event.Sequence = log.total
	log.events[(log.total-1)%uint64(log.capacity)] = event
	return event
}

// Since returns the retained events with a sequence greater than
// sequence, oldest first. If sequence is older than the oldest
// retained event, everything retained is returned (the caller missed
// some). Returns nil when there is nothing newer.
func (log *EventLog) Since(sequence uint64) []Event {
	log.mutex.Lock()
	defer log.mutex.Unlock()

	if sequence >= log.total {
		return nil
	}
	stored := min(log.total, uint64(log.capacity))
	oldest := log.total - stored + 1
	first := max(sequence+1, oldest)

	result := make([]Event, 0, log.total-first+1)
	for next := first; next <= log.total; next++ {
		result = append(result, log.events[(next-1)%uint64(log.capacity)])
	}
	return result
}

// Latest returns the sequence of the newest event, zero if none.
func (log *EventLog) Latest() uint64 {
	log.mutex.Lock()
	defer log.mutex.Unlock()
	return log.total
}
