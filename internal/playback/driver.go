/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/logging"
)

const minDriverSleep = time.Millisecond

// Driver advances a Queue in real time. It sleeps until the next chunk
// boundary reported by Tick, or until a queue mutation wakes it.
type Driver struct {
	queue  *Queue
	idle   time.Duration
	logger zerolog.Logger
}

// NewDriver creates a driver that sleeps at most idle between ticks.
func NewDriver(queue *Queue, idle time.Duration, logger zerolog.Logger) *Driver {
	if idle < minDriverSleep {
		idle = 250 * time.Millisecond
	}
	return &Driver{
		queue:  queue,
		idle:   idle,
		logger: logging.Component(logger, "driver"),
	}
}

// Run ticks the queue until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info().Dur("idle", d.idle).Msg("playback driver started")
	defer d.logger.Info().Msg("playback driver stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-d.queue.Wake():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(d.sleepFor(d.queue.Tick()))
	}
}

func (d *Driver) sleepFor(next time.Duration) time.Duration {
	switch {
	case next < 0:
		return d.idle
	case next < minDriverSleep:
		return minDriverSleep
	case next > d.idle:
		return d.idle
	}
	return next
}
