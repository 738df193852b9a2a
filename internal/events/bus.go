/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType enumerates event categories.
type EventType string

const (
	EventNowPlaying     EventType = "now_playing"
	EventTrackEnded     EventType = "track_ended"
	EventQueueChanged   EventType = "queue_changed"
	EventListenerStats  EventType = "listener_stats"
	EventCommandApplied EventType = "command_applied"
)

// AllTypes lists every event type the process publishes.
var AllTypes = []EventType{
	EventNowPlaying,
	EventTrackEnded,
	EventQueueChanged,
	EventListenerStats,
	EventCommandApplied,
}

// Payload generic event payload.
type Payload map[string]any

// Event is what subscribers receive.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Subscriber receives events.
type Subscriber chan Event

const subscriberBuffer = 32

// Bus implements a simple in-process pubsub. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]Subscriber
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers one subscriber for the given types, or for every
// type in AllTypes when none are given.
func (b *Bus) Subscribe(types ...EventType) Subscriber {
	if len(types) == 0 {
		types = AllTypes
	}
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	ev := Event{Type: eventType, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Unsubscribe removes the subscriber from every type and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.subs {
		kept := subs[:0]
		for _, candidate := range subs {
			if candidate != sub {
				kept = append(kept, candidate)
			}
		}
		b.subs[t] = kept
	}
	close(sub)
}
