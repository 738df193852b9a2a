package command

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/playback"
)

var errMissing = errors.New("missing")

type stubLoader map[string]*audio.Track

func (s stubLoader) Load(_ context.Context, id string) (*audio.Track, error) {
	t, ok := s[id]
	if !ok {
		return nil, errMissing
	}
	return t.Fork(), nil
}

func newTrack(name string) *audio.Track {
	return audio.NewTrack(name, 44100, 2, []*audio.Chunk{audio.NewChunk([]byte{0}, 1, 44100)})
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want error
		name string
	}{
		{`{"type":"command","command":"skip","idx":1}`, nil, Skip},
		{`{"type":"command","command":"swap","idx1":0,"idx2":2}`, nil, Swap},
		{`{"type":"command","command":"cplay"}`, nil, CPlay},
		{`  {"type":"command","command":"get_song","track":"a.mp3"}`, nil, GetSong},
		{`{"type":"command","command":"rewind"}`, nil, Rewind},
		{`{"type":"command","command":"skip"}`, ErrMalformed, ""},
		{`{"type":"command","command":"swap","idx1":0}`, ErrMalformed, ""},
		{`{"type":"command","command":"dance"}`, ErrUnknownCommand, ""},
		{`{"type":"chat","command":"skip","idx":0}`, ErrNotCommand, ""},
		{`not json`, ErrMalformed, ""},
		{`[1,2]`, ErrMalformed, ""},
	}
	for _, tc := range cases {
		cmd, err := Parse([]byte(tc.in))
		if tc.want != nil {
			if !errors.Is(err, tc.want) {
				t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if cmd.Name != tc.name {
			t.Fatalf("%s: parsed %q", tc.in, cmd.Name)
		}
	}
}

func TestExecutorAppliesCommands(t *testing.T) {
	t.Parallel()

	q := playback.NewQueue()
	bus := events.NewBus()
	applied := bus.Subscribe(events.EventCommandApplied)
	lib := stubLoader{"a.mp3": newTrack("a.mp3"), "b.mp3": newTrack("b.mp3"), "default.mp3": newTrack("default.mp3")}
	ex := NewExecutor(q, lib, "default.mp3", bus, zerolog.Nop())
	ctx := context.Background()

	for _, in := range []string{
		`{"type":"command","command":"get_song","track":"a.mp3"}`,
		`{"type":"command","command":"get_song","track":"b.mp3"}`,
		`{"type":"command","command":"get_song"}`,
	} {
		if _, err := ex.Handle(ctx, "test", []byte(in)); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
	}
	if snap := q.Snapshot(); len(snap.Files) != 3 || snap.Files[2] != "default.mp3" {
		t.Fatalf("unexpected queue: %v", snap.Files)
	}

	res, err := ex.Handle(ctx, "test", []byte(`{"type":"command","command":"swap","idx1":0,"idx2":2}`))
	if err != nil || !res.Applied {
		t.Fatalf("swap: %+v %v", res, err)
	}
	if snap := q.Snapshot(); snap.Files[0] != "default.mp3" {
		t.Fatalf("swap not applied: %v", snap.Files)
	}

	res, err = ex.Handle(ctx, "test", []byte(`{"type":"command","command":"skip","idx":9}`))
	if err != nil || res.Applied {
		t.Fatalf("out of range skip should be ignored: %+v %v", res, err)
	}
	if _, err := ex.Handle(ctx, "test", []byte(`{"type":"command","command":"skip","idx":0}`)); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 tracks after skip, got %d", q.Len())
	}

	res, err = ex.Handle(ctx, "test", []byte(`{"type":"command","command":"cplay"}`))
	if err != nil || res.Playing == nil || !*res.Playing {
		t.Fatalf("cplay: %+v %v", res, err)
	}
	if !q.Snapshot().Playing {
		t.Fatal("queue should be playing")
	}

	ev := <-applied
	if ev.Payload["command"] != GetSong || ev.Payload["source"] != "test" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestExecutorGetSongFailures(t *testing.T) {
	t.Parallel()

	q := playback.NewQueue()
	ex := NewExecutor(q, stubLoader{}, "missing.mp3", nil, zerolog.Nop())
	if _, err := ex.Handle(context.Background(), "t", []byte(`{"type":"command","command":"get_song"}`)); !errors.Is(err, errMissing) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("failed load must not touch the queue")
	}

	noLib := NewExecutor(q, nil, "x.mp3", nil, zerolog.Nop())
	if _, err := noLib.Handle(context.Background(), "t", []byte(`{"type":"command","command":"get_song"}`)); err == nil {
		t.Fatal("expected error without a library")
	}
}
