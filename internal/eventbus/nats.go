/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Circuit CircuitConfig
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "queuecast",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		Circuit:       DefaultCircuitConfig(),
	}
}

type natsSink struct {
	conn *nats.Conn
}

// send sets the message id header so JetStream streams bound to the subject
// can deduplicate.
func (s *natsSink) send(_ context.Context, subject, messageID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, messageID)
	msg.Data = data
	return s.conn.PublishMsg(msg)
}

func (s *natsSink) ping(ctx context.Context) error {
	return s.conn.FlushWithContext(ctx)
}

func (s *natsSink) close() error {
	return s.conn.Drain()
}

// NewNATSRelay connects to NATS and returns a relay publishing each event to
// the subject queuecast.events.<type>.
func NewNATSRelay(cfg NATSConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*Relay, error) {
	log := logger.With().Str("component", "eventbus").Str("relay", "nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS event relay initialized")
	return newRelay("nats", bus, &natsSink{conn: nc}, nodeID, cfg.Circuit, logger), nil
}
