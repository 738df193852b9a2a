/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process domain events to external brokers.
package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/events"
)

// SubjectPrefix is prepended to the event type to form the channel or subject.
const SubjectPrefix = "queuecast.events."

// Subject returns the broker channel for an event type.
func Subject(t events.EventType) string {
	return SubjectPrefix + string(t)
}

// message is the JSON envelope published to brokers.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalMessage(ev events.Event, nodeID, messageID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: ev.Type,
		Payload:   ev.Payload,
		Timestamp: ev.At,
		NodeID:    nodeID,
		MessageID: messageID,
	})
}

// NodeID identifies this process in relayed messages.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "queuecast"
	}
	return host + "-" + uuid.NewString()[:8]
}

// sink is a broker connection a Relay publishes to.
type sink interface {
	send(ctx context.Context, subject, messageID string, data []byte) error
	ping(ctx context.Context) error
	close() error
}

// CircuitConfig controls how a relay backs off from a failing broker.
type CircuitConfig struct {
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultCircuitConfig returns the default breaker settings.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{MaxFailures: 5, CheckInterval: 30 * time.Second}
}

// Relay subscribes to every event on a bus and publishes it to a broker.
// After MaxFailures consecutive publish errors the relay drops events until a
// ping succeeds, checked at most once per CheckInterval.
type Relay struct {
	kind    string
	bus     *events.Bus
	sub     events.Subscriber
	sink    sink
	nodeID  string
	circuit CircuitConfig
	logger  zerolog.Logger
	now     func() time.Time

	failCount int
	open      bool
	lastCheck time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newRelay(kind string, bus *events.Bus, s sink, nodeID string, circuit CircuitConfig, logger zerolog.Logger) *Relay {
	if circuit.MaxFailures <= 0 {
		circuit.MaxFailures = DefaultCircuitConfig().MaxFailures
	}
	if circuit.CheckInterval <= 0 {
		circuit.CheckInterval = DefaultCircuitConfig().CheckInterval
	}
	return &Relay{
		kind:    kind,
		bus:     bus,
		sub:     bus.Subscribe(),
		sink:    s,
		nodeID:  nodeID,
		circuit: circuit,
		logger:  logger.With().Str("component", "eventbus").Str("relay", kind).Logger(),
		now:     time.Now,
	}
}

// Run forwards events until ctx is cancelled, then closes the broker connection.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.sub
	defer r.bus.Unsubscribe(sub)
	defer func() {
		if err := r.sink.close(); err != nil {
			r.logger.Warn().Err(err).Msg("close broker connection")
		}
	}()

	r.logger.Info().Str("node_id", r.nodeID).Msg("event relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().
				Uint64("sent", r.sent.Load()).
				Uint64("dropped", r.dropped.Load()).
				Msg("event relay stopped")
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			r.forward(ctx, ev)
		}
	}
}

// Sent returns how many events reached the broker.
func (r *Relay) Sent() uint64 { return r.sent.Load() }

// Dropped returns how many events were not delivered.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

func (r *Relay) forward(ctx context.Context, ev events.Event) {
	if r.open && !r.tryReconnect(ctx) {
		r.dropped.Add(1)
		return
	}

	messageID := uuid.NewString()
	data, err := marshalMessage(ev, r.nodeID, messageID)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event")
		r.dropped.Add(1)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.sink.send(sendCtx, Subject(ev.Type), messageID, data); err != nil {
		r.dropped.Add(1)
		r.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to publish event")
		r.handleFailure()
		return
	}

	r.failCount = 0
	r.sent.Add(1)
	r.logger.Debug().Str("event_type", string(ev.Type)).Msg("published event")
}

func (r *Relay) handleFailure() {
	r.failCount++
	if r.failCount >= r.circuit.MaxFailures && !r.open {
		r.logger.Warn().Int("fail_count", r.failCount).Msg("broker failure threshold reached, pausing relay")
		r.open = true
		r.lastCheck = r.now()
	}
}

func (r *Relay) tryReconnect(ctx context.Context) bool {
	if r.now().Sub(r.lastCheck) < r.circuit.CheckInterval {
		return false
	}
	r.lastCheck = r.now()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.sink.ping(pingCtx); err != nil {
		r.logger.Debug().Err(err).Msg("broker still unavailable")
		return false
	}
	r.open = false
	r.failCount = 0
	r.logger.Info().Msg("broker reachable again, resuming relay")
	return true
}
