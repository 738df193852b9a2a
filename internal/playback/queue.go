/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns the shared queue of tracks, the clock that advances
// it and the fan-out of its events to listeners.
package playback

import (
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/telemetry"
)

// Idle is returned by Tick when nothing is scheduled.
const Idle time.Duration = -1

// Track end reasons carried by track_ended events.
const (
	EndCompleted   = "completed"
	EndRemoved     = "removed"
	EndInterrupted = "interrupted" // moved off the head while still queued
)

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBus publishes domain events to bus.
func WithBus(bus *events.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithLogger sets the queue logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// Queue is the shared playback queue. Every exported method takes the
// appropriate side of the guard itself; listeners are notified while the
// write side is held, so they observe events in mutation order.
type Queue struct {
	guard     Guard
	listeners fanout

	tracks  []*audio.Track
	playing bool
	anchor  time.Time
	version uint64

	// head as of the last notification pass, for re-anchoring and events
	lastHead   *audio.Track
	nowPlaying *audio.Track
	startedAt  time.Time

	now    func() time.Time
	bus    *events.Bus
	logger zerolog.Logger
	wake   chan struct{}
}

// NewQueue returns an empty, paused queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		now:    time.Now,
		logger: zerolog.Nop(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.anchor = q.now()
	return q
}

// Wake fires after every mutation so a sleeping driver can recompute its deadline.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Subscribe registers h and immediately delivers the current state to it.
// Only the read side is taken; no broadcast can run until it returns.
func (q *Queue) Subscribe(h Handle) {
	q.guard.AcquireRead()
	defer q.guard.ReleaseRead()

	l := h.live()
	if l == nil {
		return
	}
	q.listeners.add(h)
	l.DeliverState(q.snapshotLocked())
}

// Listeners returns the number of registrations, including ones not yet pruned.
func (q *Queue) Listeners() int {
	return q.listeners.len()
}

// Snapshot returns a read-only view of the queue.
func (q *Queue) Snapshot() Snapshot {
	q.guard.AcquireRead()
	defer q.guard.ReleaseRead()
	return q.snapshotLocked()
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.guard.AcquireRead()
	defer q.guard.ReleaseRead()
	return len(q.tracks)
}

// Enqueue appends track to the tail.
func (q *Queue) Enqueue(track *audio.Track) {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	q.tracks = append(q.tracks, track)
	q.logger.Debug().Str("track", track.Name).Int("size", len(q.tracks)).Msg("track enqueued")
	q.changed()
}

// RemoveAt removes the track at index. Out of range indexes are ignored.
func (q *Queue) RemoveAt(index int) bool {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	if index < 0 || index >= len(q.tracks) {
		return false
	}
	removed := q.tracks[index]
	q.tracks = slices.Delete(q.tracks, index, index+1)
	q.logger.Debug().Str("track", removed.Name).Int("index", index).Msg("track removed")
	q.ended(removed, EndRemoved)
	q.changed()
	return true
}

// Swap exchanges two tracks. Out of range or equal indexes are ignored.
func (q *Queue) Swap(i, j int) bool {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	if i == j || i < 0 || j < 0 || i >= len(q.tracks) || j >= len(q.tracks) {
		return false
	}
	q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	q.changed()
	return true
}

// TogglePlayPause flips the playing flag and returns the new value.
func (q *Queue) TogglePlayPause() bool {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	q.setPlayingLocked(!q.playing)
	return q.playing
}

// SetPlaying sets the playing flag and reports whether it changed. Setting
// the current value is a no-op that broadcasts nothing.
func (q *Queue) SetPlaying(playing bool) bool {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	if q.playing == playing {
		return false
	}
	q.setPlayingLocked(playing)
	return true
}

func (q *Queue) setPlayingLocked(playing bool) {
	q.playing = playing
	if q.playing {
		q.anchor = q.now()
	}
	q.logger.Debug().Bool("playing", q.playing).Msg("playback toggled")
	q.changed()
}

// RewindCurrent moves the head track back to its first chunk.
func (q *Queue) RewindCurrent() bool {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	if len(q.tracks) == 0 {
		return false
	}
	q.tracks[0].Rewind()
	if q.playing {
		q.anchor = q.now()
	}
	q.changed()
	return true
}

// Tick advances playback by the wall-clock time elapsed since the current
// chunk started. It returns how long until the next chunk boundary, or Idle.
func (q *Queue) Tick() time.Duration {
	q.guard.AcquireWrite()
	defer q.guard.ReleaseWrite()

	if !q.playing || len(q.tracks) == 0 {
		return Idle
	}

	head := q.tracks[0]
	chunk := head.Current()
	if chunk == nil {
		q.dropHead(head)
		return q.untilBoundaryLocked()
	}

	elapsed := q.now().Sub(q.anchor)
	if elapsed < seconds(chunk.Duration) {
		return seconds(chunk.Duration) - elapsed
	}

	if !head.Advance() {
		q.dropHead(head)
		return q.untilBoundaryLocked()
	}
	next := head.Current()
	head.MarkAnnounced()
	q.anchor = q.now()
	q.broadcastChunk(next)
	return seconds(next.Duration)
}

func (q *Queue) dropHead(head *audio.Track) {
	q.tracks = slices.Delete(q.tracks, 0, 1)
	q.logger.Debug().Str("track", head.Name).Msg("track finished")
	q.ended(head, EndCompleted)
	q.changed()
}

func (q *Queue) untilBoundaryLocked() time.Duration {
	if !q.playing || len(q.tracks) == 0 {
		return Idle
	}
	chunk := q.tracks[0].Current()
	if chunk == nil {
		return 0
	}
	remaining := seconds(chunk.Duration) - q.now().Sub(q.anchor)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// changed runs after every mutation with the write side held: re-anchor on a
// head change, announce a newly started head chunk, publish state.
// The anchor only moves while playing; resuming re-anchors.
func (q *Queue) changed() {
	var head *audio.Track
	if len(q.tracks) > 0 {
		head = q.tracks[0]
	}
	if head != q.lastHead {
		if q.playing {
			q.anchor = q.now()
		}
		q.lastHead = head
	}
	if q.nowPlaying != nil && head != q.nowPlaying {
		// Still queued but no longer the head, e.g. after a swap.
		q.ended(q.nowPlaying, EndInterrupted)
	}

	q.version++
	snap := q.snapshotLocked()
	q.broadcastState(snap)

	if q.playing && head != nil {
		if head != q.nowPlaying {
			q.nowPlaying = head
			q.startedAt = q.now()
			q.publish(events.EventNowPlaying, events.Payload{
				"filename":    head.Name,
				"sample_rate": head.SampleRate,
				"channels":    head.Channels,
				"duration":    head.Duration(),
				"started_at":  q.startedAt,
			})
		}
		if chunk := head.Current(); chunk != nil && head.MarkAnnounced() {
			q.broadcastChunk(chunk)
		}
	}

	telemetry.QueueLength.Set(float64(len(q.tracks)))
	if q.playing {
		telemetry.QueuePlaying.Set(1)
	} else {
		telemetry.QueuePlaying.Set(0)
	}
	q.publish(events.EventQueueChanged, events.Payload{
		"version": snap.Version,
		"playing": snap.Playing,
		"size":    len(snap.Files),
	})

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) ended(track *audio.Track, reason string) {
	if track != q.nowPlaying {
		return
	}
	q.nowPlaying = nil
	q.publish(events.EventTrackEnded, events.Payload{
		"filename":   track.Name,
		"reason":     reason,
		"started_at": q.startedAt,
		"ended_at":   q.now(),
	})
}

func (q *Queue) broadcastState(snap Snapshot) {
	start := time.Now()
	n := q.listeners.notifyState(snap)
	telemetry.BroadcastDuration.WithLabelValues("state").Observe(time.Since(start).Seconds())
	telemetry.ListenersNotified.Set(float64(n))
}

func (q *Queue) broadcastChunk(chunk *audio.Chunk) {
	start := time.Now()
	n := q.listeners.notifyChunk(chunk)
	telemetry.BroadcastDuration.WithLabelValues("chunk").Observe(time.Since(start).Seconds())
	telemetry.ChunksBroadcast.Inc()
	telemetry.ListenersNotified.Set(float64(n))
}

func (q *Queue) publish(t events.EventType, p events.Payload) {
	if q.bus != nil {
		q.bus.Publish(t, p)
	}
}

func (q *Queue) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: q.version,
		Playing: q.playing,
		Files:   make([]string, len(q.tracks)),
	}
	for i, t := range q.tracks {
		snap.Files[i] = t.Name
	}
	if len(q.tracks) > 0 {
		head := q.tracks[0]
		snap.Current = &CurrentTrack{
			Filename:   head.Name,
			SampleRate: head.SampleRate,
			Channels:   head.Channels,
			Encoding:   head.Encoding,
			Position:   head.Position(),
			Chunks:     head.Len(),
		}
	}
	return snap
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
