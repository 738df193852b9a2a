/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library resolves track identifiers to decoded audio tracks.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/cache"
	"github.com/friendsincode/queuecast/internal/logging"
	"github.com/friendsincode/queuecast/internal/storage"
	"github.com/friendsincode/queuecast/internal/telemetry"
)

var (
	// ErrInvalidTrackID is returned for identifiers that are absolute, escape
	// the library root, or name an unsupported format.
	ErrInvalidTrackID = errors.New("invalid track id")
	// ErrTrackNotFound is returned when the store has no object for an id.
	ErrTrackNotFound = errors.New("track not found")
)

// Entry describes one playable track in the catalog.
type Entry struct {
	ID         string  `json:"id"`
	Size       int64   `json:"size"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	Chunks     int     `json:"chunks,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type decoded struct {
	size  int64
	track *audio.Track
}

// Catalog loads tracks from an ObjectStore. Decoded tracks are kept in memory
// and forked on every load, so repeated requests share sample data.
type Catalog struct {
	store   storage.ObjectStore
	decoder audio.Decoder
	meta    *cache.Cache
	logger  zerolog.Logger

	mu      sync.Mutex
	decoded map[string]decoded
}

// NewCatalog creates a catalog. meta may be nil.
func NewCatalog(store storage.ObjectStore, decoder audio.Decoder, meta *cache.Cache, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:   store,
		decoder: decoder,
		meta:    meta,
		logger:  logging.Component(logger, "library"),
		decoded: make(map[string]decoded),
	}
}

// CleanID validates id and returns its canonical form.
func CleanID(id string) (string, error) {
	id = strings.TrimSpace(strings.ReplaceAll(id, "\\", "/"))
	if id == "" || strings.HasPrefix(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackID, id)
	}
	clean := path.Clean(id)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackID, id)
	}
	if !audio.Supported(clean) {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidTrackID, id, audio.ErrUnsupportedFormat)
	}
	return clean, nil
}

// Load returns a track for id positioned at its first chunk.
func (c *Catalog) Load(ctx context.Context, id string) (*audio.Track, error) {
	clean, err := CleanID(id)
	if err != nil {
		telemetry.TracksLoaded.WithLabelValues("invalid").Inc()
		return nil, err
	}

	info, err := c.store.Stat(ctx, clean)
	if err != nil {
		return nil, c.storeError(clean, err)
	}

	c.mu.Lock()
	hit, ok := c.decoded[clean]
	c.mu.Unlock()
	if ok && hit.size == info.Size {
		telemetry.TracksLoaded.WithLabelValues("memory").Inc()
		return hit.track.Fork(), nil
	}

	track, err := c.decode(ctx, clean, info.Size)
	if err != nil {
		return nil, err
	}
	telemetry.TracksLoaded.WithLabelValues("decoded").Inc()
	c.logger.Info().
		Str("track_id", clean).
		Int("chunks", track.Len()).
		Float64("duration", track.Duration()).
		Msg("track decoded")
	return track.Fork(), nil
}

// List returns every supported object in the store with its decoded
// metadata. Metadata comes from the Redis cache when available.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	objects, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		if !audio.Supported(obj.Key) {
			continue
		}
		entry := Entry{ID: obj.Key, Size: obj.Size}

		if meta, ok := c.meta.GetTrack(ctx, obj.Key, obj.Size); ok {
			entry.SampleRate, entry.Channels = meta.SampleRate, meta.Channels
			entry.Chunks, entry.Duration = meta.Chunks, meta.Duration
			entries = append(entries, entry)
			continue
		}

		track, err := c.decode(ctx, obj.Key, obj.Size)
		if err != nil {
			entry.Error = err.Error()
			entries = append(entries, entry)
			continue
		}
		entry.SampleRate, entry.Channels = track.SampleRate, track.Channels
		entry.Chunks, entry.Duration = track.Len(), track.Duration()
		entries = append(entries, entry)
	}
	return entries, nil
}

// Refresh drops decoded tracks and cached metadata so the next Load or List
// reads the store again.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	clear(c.decoded)
	c.mu.Unlock()
	if err := c.meta.FlushTracks(ctx); err != nil {
		return fmt.Errorf("flush track cache: %w", err)
	}
	return nil
}

// decode fetches and decodes id, then records it in memory and in the
// metadata cache.
func (c *Catalog) decode(ctx context.Context, id string, size int64) (*audio.Track, error) {
	data, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, c.storeError(id, err)
	}
	track, err := c.decoder.Decode(id, bytes.NewReader(data))
	if err != nil {
		telemetry.TracksLoaded.WithLabelValues("error").Inc()
		return nil, err
	}

	c.mu.Lock()
	c.decoded[id] = decoded{size: size, track: track}
	c.mu.Unlock()

	if err := c.meta.SetTrack(ctx, &cache.TrackMeta{
		ID:         id,
		Size:       size,
		SampleRate: track.SampleRate,
		Channels:   track.Channels,
		Chunks:     track.Len(),
		Duration:   track.Duration(),
	}); err != nil {
		c.logger.Debug().Err(err).Str("track_id", id).Msg("cache track metadata")
	}
	return track, nil
}

func (c *Catalog) storeError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		telemetry.TracksLoaded.WithLabelValues("missing").Inc()
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	telemetry.TracksLoaded.WithLabelValues("error").Inc()
	return fmt.Errorf("fetch %s: %w", id, err)
}
