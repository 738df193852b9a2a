/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream accepts raw TCP connections, upgrades them to WebSocket
// and attaches them to the playback queue.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/command"
	"github.com/friendsincode/queuecast/internal/logging"
	"github.com/friendsincode/queuecast/internal/playback"
)

// Config holds listener configuration.
type Config struct {
	Bind string
	Port int
	Options
}

// Server is the stream listener.
type Server struct {
	cfg      Config
	queue    *playback.Queue
	exec     *command.Executor
	registry *Registry
	frames   *frameCache
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a stream server.
func NewServer(cfg Config, queue *playback.Queue, exec *command.Executor, registry *Registry, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		queue:    queue,
		exec:     exec,
		registry: registry,
		frames:   newFrameCache(),
		logger:   logging.Component(logger, "stream"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("stream listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("stream server listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		s.registry.Sweep()
		c := newConn(nc, s.cfg.Options, s.queue, s.exec, s.frames, s.logger)
		s.registry.Add(c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := c.Serve(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("connection ended with error")
			}
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Shutdown stops accepting, closes every connection and waits for their
// goroutines or ctx, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveConnections returns the number of connections still owned.
func (s *Server) ActiveConnections() int {
	return s.registry.Len()
}
