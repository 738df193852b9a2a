/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package command parses client control messages and applies them to the
// playback queue.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/audio"
	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/logging"
	"github.com/friendsincode/queuecast/internal/playback"
	"github.com/friendsincode/queuecast/internal/telemetry"
)

// Command names.
const (
	Skip    = "skip"
	Swap    = "swap"
	CPlay   = "cplay"
	GetSong = "get_song"
	Rewind  = "rewind"
)

var (
	// ErrNotCommand is returned for JSON objects whose type is not "command".
	ErrNotCommand = errors.New("not a command message")
	// ErrUnknownCommand is returned for an unrecognised command name.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed is returned for payloads that are not valid command JSON.
	ErrMalformed = errors.New("malformed command")
)

// Command is one inbound control message.
type Command struct {
	Type  string `json:"type"`
	Name  string `json:"command"`
	Idx   *int   `json:"idx,omitempty"`
	Idx1  *int   `json:"idx1,omitempty"`
	Idx2  *int   `json:"idx2,omitempty"`
	Track string `json:"track,omitempty"`

	// Source identifies the sender in logs and events; not part of the payload.
	Source string `json:"-"`
}

// Parse decodes and validates a command payload.
func Parse(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(bytes.TrimSpace(data), &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cmd.Type != "command" {
		return Command{}, fmt.Errorf("%w: type %q", ErrNotCommand, cmd.Type)
	}

	switch cmd.Name {
	case Skip:
		if cmd.Idx == nil {
			return Command{}, fmt.Errorf("%w: skip requires idx", ErrMalformed)
		}
	case Swap:
		if cmd.Idx1 == nil || cmd.Idx2 == nil {
			return Command{}, fmt.Errorf("%w: swap requires idx1 and idx2", ErrMalformed)
		}
	case CPlay, GetSong, Rewind:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	return cmd, nil
}

// TrackLoader resolves a track identifier to a freshly positioned Track.
type TrackLoader interface {
	Load(ctx context.Context, id string) (*audio.Track, error)
}

// Result describes the effect of an applied command.
type Result struct {
	Command string `json:"command"`
	Applied bool   `json:"applied"`
	Playing *bool  `json:"playing,omitempty"`
	Track   string `json:"track,omitempty"`
}

// Executor applies commands to a queue.
type Executor struct {
	queue        *playback.Queue
	loader       TrackLoader
	defaultTrack string
	bus          *events.Bus
	logger       zerolog.Logger
}

// NewExecutor wires an executor. loader may be nil, in which case get_song fails.
func NewExecutor(queue *playback.Queue, loader TrackLoader, defaultTrack string, bus *events.Bus, logger zerolog.Logger) *Executor {
	return &Executor{
		queue:        queue,
		loader:       loader,
		defaultTrack: defaultTrack,
		bus:          bus,
		logger:       logging.Component(logger, "command"),
	}
}

// Handle parses data and applies it.
func (e *Executor) Handle(ctx context.Context, source string, data []byte) (Result, error) {
	cmd, err := Parse(data)
	if err != nil {
		telemetry.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		return Result{}, err
	}
	cmd.Source = source
	return e.Apply(ctx, cmd)
}

// Apply executes cmd. Index commands outside the queue bounds are not an
// error; they return a Result with Applied false.
func (e *Executor) Apply(ctx context.Context, cmd Command) (res Result, err error) {
	ctx, span := telemetry.StartCommandSpan(ctx, cmd.Name, cmd.Source)
	defer func() { telemetry.EndSpan(span, err) }()

	res = Result{Command: cmd.Name}
	switch cmd.Name {
	case Skip:
		res.Applied = e.queue.RemoveAt(*cmd.Idx)
	case Swap:
		res.Applied = e.queue.Swap(*cmd.Idx1, *cmd.Idx2)
	case CPlay:
		playing := e.queue.TogglePlayPause()
		res.Applied, res.Playing = true, &playing
	case Rewind:
		res.Applied = e.queue.RewindCurrent()
	case GetSong:
		id := cmd.Track
		if id == "" {
			id = e.defaultTrack
		}
		res.Track = id
		if e.loader == nil {
			return e.fail(cmd, errors.New("no track library configured"))
		}
		// Decode before touching the queue so the write side is never held during I/O.
		track, err := e.loader.Load(ctx, id)
		if err != nil {
			return e.fail(cmd, fmt.Errorf("load %s: %w", id, err))
		}
		e.queue.Enqueue(track)
		res.Applied = true
	default:
		return e.fail(cmd, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name))
	}

	outcome := "ignored"
	if res.Applied {
		outcome = "applied"
	}
	telemetry.CommandsTotal.WithLabelValues(cmd.Name, outcome).Inc()
	e.logger.Debug().
		Str("command", cmd.Name).
		Str("source", cmd.Source).
		Bool("applied", res.Applied).
		Msg("command handled")

	if res.Applied && e.bus != nil {
		e.bus.Publish(events.EventCommandApplied, events.Payload{
			"command": cmd.Name,
			"source":  cmd.Source,
			"track":   res.Track,
		})
	}
	return res, nil
}

func (e *Executor) fail(cmd Command, err error) (Result, error) {
	telemetry.CommandsTotal.WithLabelValues(cmd.Name, "error").Inc()
	return Result{Command: cmd.Name}, err
}
