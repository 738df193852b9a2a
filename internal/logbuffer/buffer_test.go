package logbuffer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBufferWrapsOldest(t *testing.T) {
	t.Parallel()

	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestWriterCapturesZerologLines(t *testing.T) {
	t.Parallel()

	b := New(10)
	logger := zerolog.New(NewWriter(b)).With().Timestamp().Logger()
	logger.Info().Str("component", "stream").Str("conn_id", "c1").Str("peer", "10.0.0.1").Msg("upgraded")
	logger.Warn().Str("component", "playback").Msg("queue empty")

	got := b.Query(QueryParams{ConnID: "c1"})
	if len(got) != 1 {
		t.Fatalf("expected one entry for c1, got %d", len(got))
	}
	if got[0].Component != "stream" || got[0].Message != "upgraded" || got[0].Fields["peer"] != "10.0.0.1" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}

	if n := len(b.Query(QueryParams{Search: "EMPTY"})); n != 1 {
		t.Fatalf("expected case-insensitive search hit, got %d", n)
	}
	if comps := b.GetComponents(); len(comps) != 2 || comps[0] != "playback" {
		t.Fatalf("unexpected components: %v", comps)
	}
	if stats := b.Stats(); stats.LevelCount["warn"] != 1 || stats.Count != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestQueryDescendingLimitSince(t *testing.T) {
	t.Parallel()

	b := New(10)
	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		b.Add(LogEntry{Timestamp: base.Add(time.Duration(i) * time.Second), Level: "info", Message: string(rune('a' + i))})
	}

	got := b.Query(QueryParams{Since: base.Add(2 * time.Second), Descending: true, Limit: 2})
	if len(got) != 2 || got[0].Message != "e" || got[1].Message != "d" {
		t.Fatalf("unexpected query result: %+v", got)
	}

	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Fatal("expected empty buffer after Clear")
	}
}
