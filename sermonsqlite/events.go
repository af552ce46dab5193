// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is a step of a sync session
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseParentPush Phase = "parent_push"
	PhaseParentPull Phase = "parent_pull"
	PhaseChildPush  Phase = "child_push"
	PhaseChildPull  Phase = "child_pull"
	PhaseRepair     Phase = "repair"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Progress is published when a session enters a phase
type Progress struct {
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is delivered to subscribers. Exactly one of Progress or Result is set;
// Result marks the end of a session.
type Event struct {
	Progress *Progress
	Result   *SyncResult
}

const defaultSubscriberBuffer = 32

// EventBus fans out session events to any number of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and a function that unsubscribes and closes it
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has buffer space
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
