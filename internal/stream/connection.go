/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/command"
	"github.com/friendsincode/queuecast/internal/playback"
	"github.com/friendsincode/queuecast/internal/telemetry"
	"github.com/friendsincode/queuecast/internal/wsframe"
)

// ConnState is a connection's lifecycle position.
type ConnState int32

const (
	StateHandshake ConnState = iota
	StateUpgraded
	StateStreaming
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateUpgraded:
		return "upgraded"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	errPeerClosed = errors.New("peer sent close")
	errFinished   = errors.New("connection finished")
)

// Options are the per-connection limits.
type Options struct {
	ReadBufferSize    int
	MaxHandshakeBytes int
	MaxMessageBytes   int
	WriteTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 4096
	}
	if o.MaxHandshakeBytes <= 0 {
		o.MaxHandshakeBytes = 8192
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Conn is one accepted socket. It starts in StateHandshake and, once
// upgraded, is both a queue listener and the driver of its frame decoder.
type Conn struct {
	id          string
	netConn     net.Conn
	opts        Options
	queue       *playback.Queue
	exec        *command.Executor
	frames      *frameCache
	logger      zerolog.Logger
	connectedAt time.Time

	state    atomic.Int32
	finished atomic.Bool
	path     atomic.Value // string

	writeMu   sync.Mutex
	closeOnce sync.Once

	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	chunksSent atomic.Uint64
	commands   atomic.Uint64
}

func newConn(nc net.Conn, opts Options, queue *playback.Queue, exec *command.Executor, frames *frameCache, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		netConn: nc,
		opts:    opts.withDefaults(),
		queue:   queue,
		exec:    exec,
		frames:  frames,
		logger: logger.With().
			Str("conn_id", id).
			Str("remote_addr", nc.RemoteAddr().String()).
			Logger(),
		connectedAt: time.Now(),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// State returns the lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Finished reports whether the connection has stopped accepting events.
func (c *Conn) Finished() bool { return c.finished.Load() }

// Serve runs the connection until the peer goes away, a protocol error
// occurs, or ctx is cancelled. It always leaves the connection closed.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.shutdown()

	stop := context.AfterFunc(ctx, func() { c.Close(wsframe.CloseGoingAway, "server shutting down") })
	defer stop()

	var (
		buf     = make([]byte, c.opts.ReadBufferSize)
		pending []byte
		decoder *wsframe.Decoder
	)
	for {
		n, rerr := c.netConn.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			var err error
			switch c.State() {
			case StateHandshake:
				pending = append(pending, buf[:n]...)
				var rest []byte
				rest, err = c.handshake(&pending)
				if err == nil && c.State() == StateUpgraded {
					decoder = wsframe.NewDecoder(wsframe.Options{
						RequireMask: true,
						MaxPayload:  int64(c.opts.MaxMessageBytes),
						MaxMessage:  c.opts.MaxMessageBytes,
					})
					c.startStreaming()
					if len(rest) > 0 {
						err = c.process(ctx, decoder, rest)
					}
				}
			case StateStreaming:
				err = c.process(ctx, decoder, buf[:n])
			}
			if errors.Is(err, errPeerClosed) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, net.ErrClosed) || c.Finished() {
				return nil
			}
			return fmt.Errorf("read: %w", rerr)
		}
	}
}

// handshake consumes complete request heads from pending. It returns any
// bytes following an upgrade request, which belong to the frame stream.
func (c *Conn) handshake(pending *[]byte) ([]byte, error) {
	for {
		req, consumed, err := parseHead(*pending)
		if err != nil {
			telemetry.StreamConnectionsTotal.WithLabelValues("bad_request").Inc()
			return nil, err
		}
		if consumed == 0 {
			if len(*pending) > c.opts.MaxHandshakeBytes {
				telemetry.StreamConnectionsTotal.WithLabelValues("handshake_too_large").Inc()
				return nil, ErrHandshakeTooLarge
			}
			return nil, nil
		}
		if req == nil {
			c.logger.Debug().Msg("ignoring non-upgrade request")
			*pending = (*pending)[consumed:]
			continue
		}

		if err := c.writeRaw(upgradeResponse(req.Key)); err != nil {
			return nil, fmt.Errorf("write upgrade response: %w", err)
		}
		c.path.Store(req.Path)
		c.state.Store(int32(StateUpgraded))
		c.logger.Info().Str("path", req.Path).Str("user_agent", req.UserAgent).Msg("websocket upgraded")
		rest := (*pending)[consumed:]
		*pending = nil
		return rest, nil
	}
}

func (c *Conn) startStreaming() {
	telemetry.StreamConnectionsTotal.WithLabelValues("upgraded").Inc()
	telemetry.StreamConnectionsActive.Inc()
	// Streaming is set before subscribing so the synchronisation snapshot
	// delivered by Subscribe is written.
	c.state.Store(int32(StateStreaming))
	c.queue.Subscribe(playback.Weak(c))
}

// process feeds raw bytes to the decoder and handles completed messages.
func (c *Conn) process(ctx context.Context, decoder *wsframe.Decoder, p []byte) error {
	msgs, derr := decoder.Feed(p)
	for _, msg := range msgs {
		if err := c.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
	if derr != nil {
		telemetry.ProtocolErrors.WithLabelValues(wsframe.Reason(derr)).Inc()
		c.logger.Warn().Err(derr).Msg("protocol error, closing connection")
		c.Close(wsframe.CloseCodeFor(derr), "")
		return derr
	}
	return nil
}

func (c *Conn) handleMessage(ctx context.Context, msg wsframe.Message) error {
	telemetry.FramesReceived.WithLabelValues(msg.Opcode.String()).Inc()

	switch msg.Opcode {
	case wsframe.OpPing:
		return c.writeFrame(wsframe.OpPong, msg.Payload)
	case wsframe.OpPong:
		return nil
	case wsframe.OpClose:
		code, reason, err := wsframe.ParseClosePayload(msg.Payload)
		if err != nil {
			c.Close(wsframe.CloseProtocolError, "")
			return err
		}
		c.logger.Debug().Uint16("code", code).Str("reason", reason).Msg("peer closed")
		c.Close(code, "")
		return errPeerClosed
	case wsframe.OpBinary:
		c.logger.Debug().Int("bytes", len(msg.Payload)).Msg("ignoring binary message")
		return nil
	case wsframe.OpText:
		c.commands.Add(1)
		if _, err := c.exec.Handle(ctx, c.id, msg.Payload); err != nil {
			c.logger.Warn().Err(err).Msg("command rejected")
		}
		return nil
	}
	return nil
}

// DeliverChunk implements playback.Listener.
func (c *Conn) DeliverChunk(chunk *audio.Chunk) {
	frame, err := c.frames.chunkFrameFor(chunk)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode chunk")
		return
	}
	if c.writeRaw(frame) == nil {
		c.chunksSent.Add(1)
		telemetry.FramesSent.WithLabelValues("text").Inc()
	}
}

// DeliverState implements playback.Listener.
func (c *Conn) DeliverState(snap playback.Snapshot) {
	frame, err := c.frames.stateFrameFor(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode state")
		return
	}
	if c.writeRaw(frame) == nil {
		telemetry.FramesSent.WithLabelValues("text").Inc()
	}
}

func (c *Conn) writeFrame(op wsframe.Opcode, payload []byte) error {
	err := c.writeRaw(wsframe.EncodeFrame(op, payload, true))
	if err == nil {
		telemetry.FramesSent.WithLabelValues(op.String()).Inc()
	}
	return err
}

// writeRaw writes b under the write deadline. A failed write finishes the
// connection and closes the socket, which also unblocks the reader.
func (c *Conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.finished.Load() {
		return errFinished
	}
	_ = c.netConn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	n, err := c.netConn.Write(b)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		telemetry.WriteFailures.Inc()
		c.logger.Debug().Err(err).Msg("write failed, finishing connection")
		c.finished.Store(true)
		_ = c.netConn.Close()
		return err
	}
	return nil
}

// Close sends a close frame when streaming and shuts the connection down.
func (c *Conn) Close(code uint16, reason string) {
	if c.State() == StateStreaming {
		_ = c.writeFrame(wsframe.OpClose, wsframe.ClosePayload(code, reason))
	}
	c.shutdown()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		wasStreaming := c.State() == StateStreaming
		c.state.Store(int32(StateClosed))

		c.writeMu.Lock()
		c.finished.Store(true)
		_ = c.netConn.Close()
		c.writeMu.Unlock()

		if wasStreaming {
			telemetry.StreamConnectionsActive.Dec()
		}
		c.logger.Info().
			Dur("duration", time.Since(c.connectedAt)).
			Uint64("bytes_in", c.bytesIn.Load()).
			Uint64("bytes_out", c.bytesOut.Load()).
			Uint64("chunks_sent", c.chunksSent.Load()).
			Msg("connection closed")
	})
}

// Info is a point-in-time summary for the admin API.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Path        string    `json:"path,omitempty"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	BytesIn     uint64    `json:"bytes_in"`
	BytesOut    uint64    `json:"bytes_out"`
	ChunksSent  uint64    `json:"chunks_sent"`
	Commands    uint64    `json:"commands"`
}

// Info returns a summary of the connection.
func (c *Conn) Info() Info {
	path, _ := c.path.Load().(string)
	return Info{
		ID:          c.id,
		RemoteAddr:  c.netConn.RemoteAddr().String(),
		Path:        path,
		State:       c.State().String(),
		ConnectedAt: c.connectedAt,
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
		ChunksSent:  c.chunksSent.Load(),
		Commands:    c.commands.Load(),
	}
}
