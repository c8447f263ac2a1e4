// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/vitalstream/internal/config"
	"github.com/tomtom215/vitalstream/internal/events"
	"github.com/tomtom215/vitalstream/internal/logging"
)

// eventComponents owns the accepted-record publisher and, when embedded,
// the NATS server behind it.
type eventComponents struct {
	Publisher *events.Publisher
	server    *events.EmbeddedServer
}

// initEvents wires accepted-record fan-out. With NATS disabled, events go
// to an in-process channel that is tailed into the debug log.
func initEvents(ctx context.Context, cfg *config.Config) (*eventComponents, error) {
	ecfg := cfg.EventsConfig()
	logger := events.NewLogger()

	if !ecfg.Enabled {
		pub, ch := events.NewChannelPublisher(logger)
		msgs, err := ch.Subscribe(ctx, events.TopicAccepted)
		if err != nil {
			return nil, fmt.Errorf("subscribe to %s: %w", events.TopicAccepted, err)
		}
		go tailAccepted(msgs)
		logging.Info().Msg("NATS disabled: accepted events stay in-process")
		return &eventComponents{Publisher: pub}, nil
	}

	ec := &eventComponents{}
	url := ecfg.URL
	if ecfg.Embedded {
		srv, err := events.NewEmbeddedServer(ecfg)
		if err != nil {
			return nil, err
		}
		ec.server = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	streamCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := events.EnsureStream(streamCtx, url, ecfg); err != nil {
		ec.Shutdown()
		return nil, err
	}

	pub, err := events.NewPublisher(url, ecfg, logger)
	if err != nil {
		ec.Shutdown()
		return nil, err
	}
	ec.Publisher = pub
	logging.Info().Str("url", url).Str("stream", ecfg.StreamName).Msg("Publishing accepted events to JetStream")
	return ec, nil
}

// Shutdown closes the publisher, then the embedded server.
func (e *eventComponents) Shutdown() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
	}
}

func tailAccepted(msgs <-chan *message.Message) {
	for msg := range msgs {
		evt, err := events.DecodeAccepted(msg)
		msg.Ack()
		if err != nil {
			logging.Warn().Err(err).Msg("Undecodable accepted event")
			continue
		}
		logging.Debug().
			Str("packet_id", evt.ID).
			Str("entity_id", evt.EntityID).
			Int64("seq_no", evt.SeqNo).
			Bool("late", evt.Late).
			Msg("Record accepted")
	}
}
