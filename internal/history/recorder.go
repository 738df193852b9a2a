/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists which tracks played and when.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/logging"
	"github.com/friendsincode/queuecast/internal/models"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// MaxLimit caps the rows returned by Recent.
const MaxLimit = 1000

// Recorder turns now_playing/track_ended events into PlayHistory rows.
type Recorder struct {
	db     *gorm.DB
	bus    *events.Bus
	sub    events.Subscriber
	nodeID string
	logger zerolog.Logger

	// open is the row for the track currently on air. Only the Run goroutine
	// touches it.
	open *models.PlayHistory
}

// NewRecorder creates a recorder. bus may be nil when only Recent is needed.
// The bus subscription starts here so plays begun before Run are not missed.
func NewRecorder(db *gorm.DB, bus *events.Bus, nodeID string, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		db:     db,
		bus:    bus,
		nodeID: nodeID,
		logger: logging.Component(logger, "history"),
	}
	if bus != nil {
		r.sub = bus.Subscribe(events.EventNowPlaying, events.EventTrackEnded)
	}
	return r
}

// Run consumes events until ctx is cancelled. A play still open at shutdown
// is closed with reason "shutdown".
func (r *Recorder) Run(ctx context.Context) error {
	if r.bus == nil {
		return errors.New("history recorder has no event bus")
	}
	sub := r.sub
	defer r.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			if r.open != nil {
				r.finish(context.Background(), time.Now().UTC(), models.EndShutdown)
			}
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies one event.
func (r *Recorder) Handle(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.EventNowPlaying:
		if r.open != nil {
			// A missed track_ended; close the previous play where the next begins.
			r.finish(ctx, timeField(ev.Payload, "started_at", ev.At), models.EndCompleted)
		}
		row := &models.PlayHistory{
			TrackID:    stringField(ev.Payload, "filename"),
			SampleRate: intField(ev.Payload, "sample_rate"),
			Channels:   intField(ev.Payload, "channels"),
			Duration:   floatField(ev.Payload, "duration"),
			NodeID:     r.nodeID,
			StartedAt:  timeField(ev.Payload, "started_at", ev.At).UTC(),
		}
		if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
			r.logger.Error().Err(err).Str("track_id", row.TrackID).Msg("record play start")
			return
		}
		r.open = row
		r.logger.Debug().Str("track_id", row.TrackID).Str("play_id", row.ID).Msg("play started")

	case events.EventTrackEnded:
		if r.open == nil || r.open.TrackID != stringField(ev.Payload, "filename") {
			return
		}
		reason := stringField(ev.Payload, "reason")
		if reason == "" {
			reason = models.EndCompleted
		}
		r.finish(ctx, timeField(ev.Payload, "ended_at", ev.At), reason)
	}
}

func (r *Recorder) finish(ctx context.Context, at time.Time, reason string) {
	row := r.open
	r.open = nil
	at = at.UTC()
	err := r.db.WithContext(ctx).Model(row).Updates(map[string]any{
		"ended_at":   at,
		"end_reason": reason,
	}).Error
	if err != nil {
		r.logger.Error().Err(err).Str("play_id", row.ID).Msg("record play end")
		return
	}
	r.logger.Debug().Str("track_id", row.TrackID).Str("reason", reason).Msg("play ended")
}

// Recent returns up to limit plays, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var rows []models.PlayHistory
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	return rows, nil
}

func stringField(p events.Payload, key string) string {
	s, _ := p[key].(string)
	return s
}

func intField(p events.Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatField(p events.Payload, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func timeField(p events.Payload, key string, fallback time.Time) time.Time {
	if t, ok := p[key].(time.Time); ok && !t.IsZero() {
		return t
	}
	return fallback
}
