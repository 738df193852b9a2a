/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"sync"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/playback"
	"github.com/friendsincode/queuecast/internal/wsframe"
)

// frameCache holds the encoded text frame for the most recent chunk and
// state, so a broadcast encodes once regardless of listener count.
type frameCache struct {
	mu sync.Mutex

	chunk      *audio.Chunk
	chunkFrame []byte

	stateVersion uint64
	stateFrame   []byte
}

func newFrameCache() *frameCache {
	return &frameCache{}
}

func (f *frameCache) chunkFrameFor(c *audio.Chunk) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.chunk == c && f.chunkFrame != nil {
		return f.chunkFrame, nil
	}
	payload, err := playback.EncodeChunk(c)
	if err != nil {
		return nil, err
	}
	f.chunk = c
	f.chunkFrame = wsframe.EncodeFrame(wsframe.OpText, payload, true)
	return f.chunkFrame, nil
}

func (f *frameCache) stateFrameFor(s playback.Snapshot) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stateFrame != nil && f.stateVersion == s.Version {
		return f.stateFrame, nil
	}
	payload, err := playback.EncodeState(s)
	if err != nil {
		return nil, err
	}
	f.stateVersion = s.Version
	f.stateFrame = wsframe.EncodeFrame(wsframe.OpText, payload, true)
	return f.stateFrame, nil
}
