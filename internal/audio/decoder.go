/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrEmptyTrack is returned when a file decodes to zero samples.
	ErrEmptyTrack = errors.New("audio file contains no samples")
)

// DefaultChunkFrames matches one MPEG-1 Layer III frame.
const DefaultChunkFrames = 1152

// Decoder turns an encoded file into a Track.
type Decoder interface {
	Decode(name string, r io.Reader) (*Track, error)
}

// Supported reports whether name has an extension BeepDecoder can handle.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".wav":
		return true
	}
	return false
}

// BeepDecoder decodes MP3 and WAV files into 16-bit PCM chunks.
type BeepDecoder struct {
	ChunkFrames int
}

// NewBeepDecoder returns a decoder producing chunks of chunkFrames frames.
func NewBeepDecoder(chunkFrames int) *BeepDecoder {
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	return &BeepDecoder{ChunkFrames: chunkFrames}
}

// Decode implements Decoder.
func (d *BeepDecoder) Decode(name string, r io.Reader) (*Track, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(io.NopCloser(r))
	case ".wav":
		streamer, format, err = wav.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	defer streamer.Close()

	chunks, err := chunkStream(streamer, format, d.ChunkFrames)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTrack, name)
	}
	return NewTrack(name, int(format.SampleRate), format.NumChannels, chunks), nil
}

// chunkStream drains s into chunks of at most frames frames, encoded as
// interleaved signed 16-bit little-endian PCM.
func chunkStream(s beep.Streamer, format beep.Format, frames int) ([]*Chunk, error) {
	out := format
	out.Precision = 2
	if out.NumChannels <= 0 {
		out.NumChannels = 2
	}
	frameBytes := out.Width()
	rate := int(out.SampleRate)

	buf := make([][2]float64, frames)
	var chunks []*Chunk
	for {
		n, ok := s.Stream(buf)
		if n > 0 {
			data := make([]byte, n*frameBytes)
			p := data
			for _, sample := range buf[:n] {
				p = p[out.EncodeSigned(p, sample):]
			}
			chunks = append(chunks, NewChunk(data, float64(n)/float64(rate), rate))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}
