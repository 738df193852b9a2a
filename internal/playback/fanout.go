/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"
	"weak"

	"github.com/friendsincode/queuecast/internal/audio"
)

// Listener receives queue events.
//
// Deliveries happen synchronously while the queue's write side is held, so
// a slow listener delays every other listener.
type Listener interface {
	DeliverChunk(chunk *audio.Chunk)
	DeliverState(snap Snapshot)
	Finished() bool
}

// Handle is a non-owning reference to a Listener held by the queue.
type Handle struct {
	resolve func() Listener
}

// Weak returns a Handle that does not keep p alive. Once p is collected the
// handle resolves to nil and is pruned on the next notification.
func Weak[T any, PT interface {
	*T
	Listener
}](p PT) Handle {
	wp := weak.Make((*T)(p))
	return Handle{resolve: func() Listener {
		if v := wp.Value(); v != nil {
			return PT(v)
		}
		return nil
	}}
}

// Strong returns a Handle that keeps l alive until it reports Finished.
func Strong(l Listener) Handle {
	return Handle{resolve: func() Listener { return l }}
}

// live returns the listener if it still exists and has not finished.
func (h Handle) live() Listener {
	if h.resolve == nil {
		return nil
	}
	l := h.resolve()
	if l == nil || l.Finished() {
		return nil
	}
	return l
}

type fanout struct {
	mu      sync.Mutex
	handles []Handle
}

func (f *fanout) add(h Handle) {
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
}

// collect prunes dead or finished registrations and returns the rest.
func (f *fanout) collect() []Listener {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Listener, 0, len(f.handles))
	kept := f.handles[:0]
	for _, h := range f.handles {
		if l := h.live(); l != nil {
			kept = append(kept, h)
			out = append(out, l)
		}
	}
	for i := len(kept); i < len(f.handles); i++ {
		f.handles[i] = Handle{}
	}
	f.handles = kept
	return out
}

func (f *fanout) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fanout) notifyChunk(chunk *audio.Chunk) int {
	listeners := f.collect()
	for _, l := range listeners {
		l.DeliverChunk(chunk)
	}
	return len(listeners)
}

func (f *fanout) notifyState(snap Snapshot) int {
	listeners := f.collect()
	for _, l := range listeners {
		l.DeliverState(snap)
	}
	return len(listeners)
}
