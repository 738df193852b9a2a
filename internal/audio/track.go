/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio holds decoded tracks: fixed-length PCM chunks plus a cursor.
package audio

import (
	"encoding/base64"
	"sync"
)

// EncodingSigned16 is the sample encoding code reported for decoded tracks:
// signed 16-bit little-endian, using the mpg123 numbering clients expect.
const EncodingSigned16 = 0xD0

// Chunk is one decoded block of interleaved PCM.
type Chunk struct {
	Data       []byte
	Duration   float64 // seconds
	SampleRate int

	b64Once sync.Once
	b64     string
}

// NewChunk builds a chunk from raw PCM.
func NewChunk(data []byte, duration float64, sampleRate int) *Chunk {
	return &Chunk{Data: data, Duration: duration, SampleRate: sampleRate}
}

// Base64 returns the standard base64 encoding of Data. The result is
// computed once and shared by every listener the chunk is sent to.
func (c *Chunk) Base64() string {
	c.b64Once.Do(func() {
		c.b64 = base64.StdEncoding.EncodeToString(c.Data)
	})
	return c.b64
}

// Track is an ordered sequence of chunks with a playback cursor.
//
// Track is not safe for concurrent use; the playback queue serializes
// access under its guard.
type Track struct {
	Name       string
	SampleRate int
	Channels   int
	Encoding   int

	chunks    []*Chunk
	cursor    int
	announced int
}

// NewTrack creates a track positioned at its first chunk.
func NewTrack(name string, sampleRate, channels int, chunks []*Chunk) *Track {
	return &Track{
		Name:       name,
		SampleRate: sampleRate,
		Channels:   channels,
		Encoding:   EncodingSigned16,
		chunks:     chunks,
		announced:  -1,
	}
}

// Fork returns a new track sharing the decoded chunks with a fresh cursor.
func (t *Track) Fork() *Track {
	f := NewTrack(t.Name, t.SampleRate, t.Channels, t.chunks)
	f.Encoding = t.Encoding
	return f
}

// Current returns the chunk under the cursor, or nil once exhausted.
func (t *Track) Current() *Chunk {
	if t.cursor < 0 || t.cursor >= len(t.chunks) {
		return nil
	}
	return t.chunks[t.cursor]
}

// Advance moves the cursor forward and reports whether a chunk remains.
func (t *Track) Advance() bool {
	if t.cursor < len(t.chunks) {
		t.cursor++
	}
	return t.cursor < len(t.chunks)
}

// Rewind puts the cursor back on the first chunk.
func (t *Track) Rewind() {
	t.cursor = 0
	t.announced = -1
}

// Exhausted reports whether the cursor is past the final chunk.
func (t *Track) Exhausted() bool {
	return t.cursor >= len(t.chunks)
}

// Position returns the cursor index.
func (t *Track) Position() int {
	return t.cursor
}

// Len returns the number of chunks.
func (t *Track) Len() int {
	return len(t.chunks)
}

// Duration returns the summed chunk durations in seconds.
func (t *Track) Duration() float64 {
	var total float64
	for _, c := range t.chunks {
		total += c.Duration
	}
	return total
}

// MarkAnnounced records that the chunk under the cursor has been broadcast
// and reports whether it had not been already.
func (t *Track) MarkAnnounced() bool {
	if t.announced == t.cursor {
		return false
	}
	t.announced = t.cursor
	return true
}
