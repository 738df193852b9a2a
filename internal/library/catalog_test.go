package library

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/storage"
)

type countingDecoder struct {
	inner audio.Decoder
	calls int
}

func (d *countingDecoder) Decode(name string, r io.Reader) (*audio.Track, error) {
	d.calls++
	return d.inner.Decode(name, r)
}

func writeWAV(t *testing.T, dir, name string, frames int) {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(full)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Silence(frames), format); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func newCatalog(t *testing.T) (*Catalog, *countingDecoder, string) {
	t.Helper()
	dir := t.TempDir()
	dec := &countingDecoder{inner: audio.NewBeepDecoder(400)}
	return NewCatalog(storage.NewFilesystemStore(dir, zerolog.Nop()), dec, nil, zerolog.Nop()), dec, dir
}

func TestCleanID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Captain.mp3", want: "Captain.mp3"},
		{in: "sets/./one.wav", want: "sets/one.wav"},
		{in: `sets\two.WAV`, want: "sets/two.WAV"},
		{in: "", wantErr: true},
		{in: "/etc/passwd.wav", wantErr: true},
		{in: "../secret.mp3", wantErr: true},
		{in: "a/../../b.mp3", wantErr: true},
		{in: "notes.txt", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidTrackID) {
				t.Errorf("CleanID(%q): expected ErrInvalidTrackID, got %q, %v", tt.in, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CleanID(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestLoadDecodesOnceAndForks(t *testing.T) {
	cat, dec, dir := newCatalog(t)
	writeWAV(t, dir, "tone.wav", 1000)
	ctx := context.Background()

	first, err := cat.Load(ctx, "tone.wav")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.Len() != 3 || first.SampleRate != 8000 || first.Channels != 1 {
		t.Fatalf("unexpected track: len=%d rate=%d ch=%d", first.Len(), first.SampleRate, first.Channels)
	}
	first.Advance()

	second, err := cat.Load(ctx, "./tone.wav")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.Position() != 0 {
		t.Fatalf("second load should start at chunk 0, got %d", second.Position())
	}
	if dec.calls != 1 {
		t.Fatalf("expected one decode, got %d", dec.calls)
	}
}

func TestLoadRedecodesReplacedFile(t *testing.T) {
	cat, dec, dir := newCatalog(t)
	writeWAV(t, dir, "tone.wav", 400)
	ctx := context.Background()

	if _, err := cat.Load(ctx, "tone.wav"); err != nil {
		t.Fatalf("load: %v", err)
	}
	writeWAV(t, dir, "tone.wav", 1200)
	track, err := cat.Load(ctx, "tone.wav")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if dec.calls != 2 || track.Len() != 3 {
		t.Fatalf("expected re-decode to 3 chunks, calls=%d len=%d", dec.calls, track.Len())
	}
}

func TestLoadErrors(t *testing.T) {
	cat, _, dir := newCatalog(t)
	ctx := context.Background()

	if _, err := cat.Load(ctx, "missing.wav"); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
	if _, err := cat.Load(ctx, "../up.wav"); !errors.Is(err, ErrInvalidTrackID) {
		t.Fatalf("expected ErrInvalidTrackID, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "junk.wav"), []byte("not a wav"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cat.Load(ctx, "junk.wav"); err == nil {
		t.Fatal("expected decode error for junk data")
	}
}

func TestListReportsMetadata(t *testing.T) {
	cat, _, dir := newCatalog(t)
	writeWAV(t, dir, "b/two.wav", 800)
	writeWAV(t, dir, "one.wav", 400)
	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte{1}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := cat.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audio entries, got %+v", entries)
	}
	if entries[0].ID != "b/two.wav" || entries[0].Chunks != 2 || entries[0].Duration != 0.1 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ID != "broken.wav" || entries[1].Error == "" {
		t.Fatalf("broken file should carry an error: %+v", entries[1])
	}
	if entries[2].ID != "one.wav" || entries[2].SampleRate != 8000 || entries[2].Chunks != 1 {
		t.Fatalf("unexpected last entry: %+v", entries[2])
	}
}

func TestRefreshForgetsDecodedTracks(t *testing.T) {
	cat, dec, dir := newCatalog(t)
	writeWAV(t, dir, "tone.wav", 400)
	ctx := context.Background()

	if _, err := cat.Load(ctx, "tone.wav"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cat.Refresh(ctx); err != nil {
		t.Fatalf("refresh with no cache: %v", err)
	}
	if _, err := cat.Load(ctx, "tone.wav"); err != nil {
		t.Fatalf("load after refresh: %v", err)
	}
	if dec.calls != 2 {
		t.Fatalf("expected a second decode after refresh, got %d", dec.calls)
	}
}
