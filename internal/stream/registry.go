/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/events"
	"github.com/friendsincode/queuecast/internal/logging"
	"github.com/friendsincode/queuecast/internal/wsframe"
)

// Registry owns every live connection. The playback queue only holds weak
// handles, so a connection stays reachable exactly as long as it is here or
// its goroutine is running.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	bus    *events.Bus
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *events.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		bus:    bus,
		logger: logging.Component(logger, "registry"),
	}
}

// Add takes ownership of c.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.publish("connect", n)
}

// Sweep drops finished connections and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := 0
	for id, c := range r.conns {
		if c.Finished() {
			delete(r.conns, id)
			removed++
		}
	}
	n := len(r.conns)
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Int("active", n).Msg("swept finished connections")
		r.publish("disconnect", n)
	}
	return removed
}

// Run sweeps every period until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of owned connections, finished or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// List returns connection summaries ordered by connect time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		infos = append(infos, c.Info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// CloseAll sends a going-away close to every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(wsframe.CloseGoingAway, "server shutting down")
	}
	r.Sweep()
}

func (r *Registry) publish(change string, listeners int) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.EventListenerStats, events.Payload{
		"change":    change,
		"listeners": listeners,
	})
}
