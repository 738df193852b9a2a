package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/command"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/playback"
	"github.com/friendsincode/queuecast/internal/wsframe"
)

const rfcKey = "dGhlIHNhbXBsZSBub25jZQ=="

var clientKey = [4]byte{1, 2, 3, 4}

func upgradeRequestFor(key string) string {
	return "GET /stream HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
}

type pipeHarness struct {
	client net.Conn
	reader *bufio.Reader
	conn   *Conn
	queue  *playback.Queue
	done   chan error
}

func newPipeHarness(t *testing.T, opts Options) *pipeHarness {
	t.Helper()

	client, server := net.Pipe()
	q := playback.NewQueue()
	exec := command.NewExecutor(q, nil, "", nil, zerolog.Nop())
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	c := newConn(server, opts, q, exec, newFrameCache(), zerolog.Nop())

	h := &pipeHarness{client: client, reader: bufio.NewReader(client), conn: c, queue: q, done: make(chan error, 1)}
	go func() { h.done <- c.Serve(context.Background()) }()
	t.Cleanup(func() { client.Close() })
	return h
}

func (h *pipeHarness) write(t *testing.T, b []byte) {
	t.Helper()
	_ = h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.client.Write(b); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func (h *pipeHarness) readExact(t *testing.T, n int) []byte {
	t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(h.reader, buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	return buf
}

func (h *pipeHarness) readFrame(t *testing.T) wsframe.Frame {
	t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	p := wsframe.NewParser(wsframe.Options{})
	for {
		b, err := h.reader.ReadByte()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		frames, err := p.Feed([]byte{b})
		if err != nil {
			t.Fatalf("parse frame: %v", err)
		}
		if len(frames) == 1 {
			if frames[0].Masked {
				t.Fatal("server frames must not be masked")
			}
			return frames[0]
		}
	}
}

func (h *pipeHarness) upgrade(t *testing.T) {
	t.Helper()
	h.write(t, []byte(upgradeRequestFor(rfcKey)))
	h.expectUpgrade(t)
}

func (h *pipeHarness) expectUpgrade(t *testing.T) {
	t.Helper()
	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	if got := string(h.readExact(t, len(want))); got != want {
		t.Fatalf("unexpected upgrade response:\n%q\nwant\n%q", got, want)
	}

	state := h.readFrame(t)
	var msg struct {
		Metadata struct {
			IsPlaying bool `json:"is_playing"`
			Queue     struct {
				Size int `json:"size"`
			} `json:"queue"`
		} `json:"metadata"`
	}
	if state.Opcode != wsframe.OpText || json.Unmarshal(state.Payload, &msg) != nil {
		t.Fatalf("expected state message after upgrade, got %s %q", state.Opcode, state.Payload)
	}
}

func TestAcceptKeyRFCVector(t *testing.T) {
	t.Parallel()

	if got := AcceptKey(rfcKey); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("unexpected accept key %q", got)
	}
}

func TestParseHead(t *testing.T) {
	t.Parallel()

	req, n, err := parseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	if req != nil || n != 0 || err != nil {
		t.Fatalf("partial head should need more input: %v %d %v", req, n, err)
	}

	plain := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	req, n, err = parseHead([]byte(plain + "tail"))
	if req != nil || n != len(plain) || err != nil {
		t.Fatalf("plain request should be skipped: %v %d %v", req, n, err)
	}

	upgrade := "GET /live HTTP/1.1\r\nHost: x\r\nUpgrade: WebSocket\r\nConnection: keep-alive, Upgrade\r\nSec-WebSocket-Key: abc\r\n\r\n"
	req, n, err = parseHead([]byte(upgrade))
	if err != nil || req == nil || req.Key != "abc" || req.Path != "/live" || n != len(upgrade) {
		t.Fatalf("unexpected upgrade parse: %+v %d %v", req, n, err)
	}

	if _, _, err := parseHead([]byte("\x00\x01garbage\r\n\r\n")); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestHandshakeAcrossSplitReads(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	req := []byte(upgradeRequestFor(rfcKey))
	h.write(t, req[:17])
	h.write(t, req[17:40])
	if h.conn.State() != StateHandshake {
		t.Fatalf("expected handshake state, got %s", h.conn.State())
	}
	h.write(t, req[40:])
	h.expectUpgrade(t)

	if h.conn.State() != StateStreaming {
		t.Fatalf("expected streaming state, got %s", h.conn.State())
	}
	if h.queue.Listeners() != 1 {
		t.Fatalf("expected connection to subscribe, got %d listeners", h.queue.Listeners())
	}
}

func TestNonUpgradeRequestKeepsWaiting(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	h.write(t, []byte("GET /status HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	if h.conn.State() != StateHandshake {
		t.Fatalf("plain request should not upgrade, state %s", h.conn.State())
	}
	h.upgrade(t)
}

func TestHandshakeTooLarge(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{MaxHandshakeBytes: 64})
	go func() { _, _ = h.client.Write([]byte("GET / HTTP/1.1\r\nX-Padding: " + string(make([]byte, 100)))) }()

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrHandshakeTooLarge) {
			t.Fatalf("expected ErrHandshakeTooLarge, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not give up on an oversized head")
	}
}

func TestFramesAfterHeadInSameRead(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	in := append([]byte(upgradeRequestFor(rfcKey)), wsframe.AppendMaskedFrame(nil, wsframe.OpPing, []byte("early"), true, clientKey)...)
	h.write(t, in)
	h.expectUpgrade(t)

	pong := h.readFrame(t)
	if pong.Opcode != wsframe.OpPong || string(pong.Payload) != "early" {
		t.Fatalf("expected pong echo, got %s %q", pong.Opcode, pong.Payload)
	}
}

func TestPingPongAndCloseEcho(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	h.upgrade(t)

	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpPing, []byte("hi"), true, clientKey))
	if pong := h.readFrame(t); pong.Opcode != wsframe.OpPong || string(pong.Payload) != "hi" {
		t.Fatalf("expected pong, got %s %q", pong.Opcode, pong.Payload)
	}

	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpClose, wsframe.ClosePayload(wsframe.CloseNormal, "done"), true, clientKey))
	closing := h.readFrame(t)
	code, _, err := wsframe.ParseClosePayload(closing.Payload)
	if closing.Opcode != wsframe.OpClose || err != nil || code != wsframe.CloseNormal {
		t.Fatalf("expected close echo with 1000, got %s %d %v", closing.Opcode, code, err)
	}

	if err := <-h.done; err != nil {
		t.Fatalf("clean close should not be an error: %v", err)
	}
	if !h.conn.Finished() || h.conn.State() != StateClosed {
		t.Fatal("connection should be finished and closed")
	}
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	h.upgrade(t)

	h.write(t, wsframe.EncodeFrame(wsframe.OpText, []byte(`{"type":"command","command":"cplay"}`), true))
	closing := h.readFrame(t)
	code, _, _ := wsframe.ParseClosePayload(closing.Payload)
	if closing.Opcode != wsframe.OpClose || code != wsframe.CloseProtocolError {
		t.Fatalf("expected close 1002, got %s %d", closing.Opcode, code)
	}
	if err := <-h.done; !errors.Is(err, wsframe.ErrUnmaskedFrame) {
		t.Fatalf("expected unmasked frame error, got %v", err)
	}
	if h.queue.Snapshot().Playing {
		t.Fatal("command in a rejected frame must not be applied")
	}
}

func TestInvalidCommandKeepsConnectionOpen(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{})
	h.upgrade(t)

	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpText, []byte("not json"), true, clientKey))
	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpBinary, []byte{1, 2, 3}, true, clientKey))
	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpText, []byte(`{"type":"command","command":"skip","idx":4}`), true, clientKey))
	h.write(t, wsframe.AppendMaskedFrame(nil, wsframe.OpText, []byte(`{"type":"command","command":"cplay"}`), true, clientKey))

	state := h.readFrame(t)
	var msg struct {
		Metadata struct {
			IsPlaying bool `json:"is_playing"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(state.Payload, &msg); err != nil || !msg.Metadata.IsPlaying {
		t.Fatalf("expected playing state after cplay, got %q (%v)", state.Payload, err)
	}
}

func TestWriteFailureFinishesListener(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, Options{WriteTimeout: 50 * time.Millisecond})
	h.upgrade(t)

	// Nobody reads the client side, so the next broadcast times out.
	h.queue.TogglePlayPause()
	if !h.conn.Finished() {
		t.Fatal("timed out write should finish the connection")
	}
	h.queue.TogglePlayPause()
	if n := h.queue.Listeners(); n != 0 {
		t.Fatalf("finished connection should be pruned, %d listeners remain", n)
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit after write failure")
	}
}

func TestRegistrySweep(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	stats := bus.Subscribe(events.EventListenerStats)
	reg := NewRegistry(bus, zerolog.Nop())

	h := newPipeHarness(t, Options{})
	reg.Add(h.conn)
	if ev := <-stats; ev.Payload["change"] != "connect" || ev.Payload["listeners"] != 1 {
		t.Fatalf("unexpected stats event: %+v", ev)
	}

	if reg.Sweep() != 0 {
		t.Fatal("live connection should not be swept")
	}
	h.conn.shutdown()
	if reg.Sweep() != 1 || reg.Len() != 0 {
		t.Fatal("finished connection should be swept")
	}
	if ev := <-stats; ev.Payload["change"] != "disconnect" || ev.Payload["listeners"] != 0 {
		t.Fatalf("unexpected stats event: %+v", ev)
	}
}
