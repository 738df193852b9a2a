package history

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/db"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/models"
	"github.com/friendsincode/queuecast/internal/playback"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func nowPlaying(name string, at time.Time) events.Event {
	return events.Event{Type: events.EventNowPlaying, At: at, Payload: events.Payload{
		"filename":    name,
		"sample_rate": 44100,
		"channels":    2,
		"duration":    3.5,
		"started_at":  at,
	}}
}

func trackEnded(name, reason string, started, ended time.Time) events.Event {
	return events.Event{Type: events.EventTrackEnded, At: ended, Payload: events.Payload{
		"filename":   name,
		"reason":     reason,
		"started_at": started,
		"ended_at":   ended,
	}}
}

func TestRecorderPersistsPlays(t *testing.T) {
	database := newTestDB(t)
	rec := NewRecorder(database, nil, "node-a", zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.Handle(ctx, nowPlaying("one.mp3", t0))
	rec.Handle(ctx, trackEnded("one.mp3", "completed", t0, t0.Add(3*time.Second)))
	rec.Handle(ctx, nowPlaying("two.mp3", t0.Add(4*time.Second)))
	rec.Handle(ctx, trackEnded("two.mp3", "removed", t0.Add(4*time.Second), t0.Add(5*time.Second)))

	rows, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].TrackID != "two.mp3" || rows[0].EndReason != "removed" || rows[0].Played() != time.Second {
		t.Fatalf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].TrackID != "one.mp3" || rows[1].SampleRate != 44100 || rows[1].Channels != 2 || rows[1].Duration != 3.5 {
		t.Fatalf("unexpected oldest row: %+v", rows[1])
	}
	if rows[1].NodeID != "node-a" || rows[1].ID == "" {
		t.Fatalf("row missing node or id: %+v", rows[1])
	}
}

func TestRecorderClosesMissedEnd(t *testing.T) {
	database := newTestDB(t)
	rec := NewRecorder(database, nil, "", zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.Handle(ctx, nowPlaying("one.mp3", t0))
	rec.Handle(ctx, trackEnded("other.mp3", "completed", t0, t0.Add(time.Second)))
	rec.Handle(ctx, nowPlaying("two.mp3", t0.Add(2*time.Second)))

	rows, err := rec.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].EndedAt == nil || !rows[1].EndedAt.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("first play should end when the next starts: %+v", rows[1])
	}
	if rows[0].EndedAt != nil {
		t.Fatalf("current play should still be open: %+v", rows[0])
	}
}

func TestRunClosesOpenPlayOnShutdown(t *testing.T) {
	database := newTestDB(t)
	bus := events.NewBus()
	rec := NewRecorder(database, bus, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(events.EventNowPlaying, nowPlaying("live.wav", time.Now().UTC()).Payload)
		rows, _ := rec.Recent(context.Background(), 1)
		if len(rows) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder never persisted a play")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	var open int64
	if err := database.Model(&models.PlayHistory{}).Where("ended_at IS NULL").Count(&open).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if open != 0 {
		t.Fatalf("expected no open plays after shutdown, got %d", open)
	}
}

func TestMigrateClosesDanglingPlays(t *testing.T) {
	database := newTestDB(t)
	if err := database.Create(&models.PlayHistory{TrackID: "x.wav", StartedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var row models.PlayHistory
	if err := database.First(&row).Error; err != nil {
		t.Fatalf("first: %v", err)
	}
	if row.EndedAt == nil || row.EndReason != models.EndShutdown {
		t.Fatalf("dangling play not closed: %+v", row)
	}
}

func TestRecorderClosesSwappedOutPlay(t *testing.T) {
	database := newTestDB(t)
	rec := NewRecorder(database, nil, "node-a", zerolog.Nop())
	ctx := context.Background()

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventNowPlaying, events.EventTrackEnded)
	q := playback.NewQueue(playback.WithBus(bus))
	chunk := audio.NewChunk(make([]byte, 4), 1, 8000)
	q.Enqueue(audio.NewTrack("a.mp3", 8000, 1, []*audio.Chunk{chunk}))
	q.Enqueue(audio.NewTrack("b.mp3", 8000, 1, []*audio.Chunk{chunk}))
	q.TogglePlayPause()
	q.Swap(0, 1)
	q.RemoveAt(1)

	for len(sub) > 0 {
		rec.Handle(ctx, <-sub)
	}

	rows, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one row per play, got %d", len(rows))
	}
	byTrack := map[string]models.PlayHistory{rows[0].TrackID: rows[0], rows[1].TrackID: rows[1]}
	if a := byTrack["a.mp3"]; a.EndedAt == nil || a.EndReason != models.EndInterrupted {
		t.Fatalf("swapped out play not closed as interrupted: %+v", a)
	}
	if b := byTrack["b.mp3"]; b.EndedAt != nil {
		t.Fatalf("current play should still be open: %+v", b)
	}
}
