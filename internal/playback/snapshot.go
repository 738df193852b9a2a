/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"encoding/json"

	"github.com/friendsincode/queuecast/internal/audio"
)

// Snapshot is a read-only view of the queue.
type Snapshot struct {
	Version uint64
	Playing bool
	Files   []string
	Current *CurrentTrack
}

// CurrentTrack describes the head of the queue.
type CurrentTrack struct {
	Filename   string
	SampleRate int
	Channels   int
	Encoding   int
	Position   int
	Chunks     int
}

// Wire formats sent to WebSocket clients.

type stateMessage struct {
	Metadata stateMetadata `json:"metadata"`
}

type stateMetadata struct {
	IsPlaying bool         `json:"is_playing"`
	Queue     queueInfo    `json:"queue"`
	Current   *currentInfo `json:"current,omitempty"`
}

type queueInfo struct {
	Size  int      `json:"size"`
	Files []string `json:"files"`
}

type currentInfo struct {
	Filename     string `json:"filename"`
	SamplingRate int    `json:"sampling_rate"`
	Channels     int    `json:"channels"`
	Encoding     int    `json:"encoding"`
}

type chunkMessage struct {
	AudioBlock audioBlock `json:"audio_block"`
}

type audioBlock struct {
	Duration float64 `json:"duration"`
	Rate     int     `json:"rate"`
	Data     string  `json:"data"`
}

// MarshalJSON renders the snapshot as a state event.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	files := s.Files
	if files == nil {
		files = []string{}
	}
	msg := stateMessage{Metadata: stateMetadata{
		IsPlaying: s.Playing,
		Queue:     queueInfo{Size: len(files), Files: files},
	}}
	if s.Current != nil {
		msg.Metadata.Current = &currentInfo{
			Filename:     s.Current.Filename,
			SamplingRate: s.Current.SampleRate,
			Channels:     s.Current.Channels,
			Encoding:     s.Current.Encoding,
		}
	}
	return json.Marshal(msg)
}

// EncodeState returns the state event payload for snap.
func EncodeState(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// EncodeChunk returns the chunk event payload for c.
func EncodeChunk(c *audio.Chunk) ([]byte, error) {
	return json.Marshal(chunkMessage{AudioBlock: audioBlock{
		Duration: c.Duration,
		Rate:     c.SampleRate,
		Data:     c.Base64(),
	}})
}
