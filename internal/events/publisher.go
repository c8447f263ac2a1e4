// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package events fans out accepted-record notifications.
//
// Each newly created ingestion record produces one message on
// TopicAccepted whose UUID is the packet ID. With NATS JetStream the ID
// doubles as Nats-Msg-Id, so a republish inside the duplicate window is
// dropped by the server. Messages never carry plaintext vitals.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
)

var (
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("events: publisher is closed")

	// ErrBacklogFull is returned when the publish backlog has no room. The
	// event is dropped; the record it describes is already stored.
	ErrBacklogFull = errors.New("events: publish backlog full")
)

// Publish results, used as metric labels.
const (
	ResultPublished = "published"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Publisher publishes accepted-record events. It satisfies ingest.Notifier.
//
// PublishAccepted only enqueues: a single worker drains a bounded backlog
// and publishes each event under PublishTimeout, so a slow or unreachable
// broker never holds up the ingest response.
type Publisher struct {
	publisher message.Publisher
	cb        *gobreaker.CircuitBreaker[any]
	config    Config

	backlog chan *message.Message
	base    context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects a JetStream publisher to url.
func NewPublisher(url string, cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewLogger()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // EnsureStream owns the stream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
				natsgo.AckWait(cfg.PublishTimeout),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return newPublisher(pub, cfg), nil
}

// NewChannelPublisher returns a Publisher over an in-process Go channel
// pub/sub, plus the channel so callers can subscribe.
func NewChannelPublisher(logger watermill.LoggerAdapter) (*Publisher, *gochannel.GoChannel) {
	if logger == nil {
		logger = NewLogger()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return newPublisher(ch, DefaultConfig()), ch
}

func newPublisher(pub message.Publisher, cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "events-publisher",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	base, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		publisher: pub,
		cb:        cb,
		config:    cfg,
		backlog:   make(chan *message.Message, cfg.Backlog),
		base:      base,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishAccepted queues one created record for publishing. It never
// waits on the broker.
func (p *Publisher) PublishAccepted(ctx context.Context, evt *models.AcceptedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal accepted event: %w", err)
	}
	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, evt.ID)
	msg.Metadata.Set("entity_id", evt.EntityID)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.backlog <- msg:
		return nil
	default:
		metrics.EventsPublished.WithLabelValues(ResultDropped).Inc()
		return ErrBacklogFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.backlog {
		if p.base.Err() != nil {
			metrics.EventsPublished.WithLabelValues(ResultDropped).Inc()
			continue
		}

		ctx, cancel := context.WithTimeout(p.base, p.config.PublishTimeout)
		msg.SetContext(ctx)
		_, err := p.cb.Execute(func() (any, error) {
			return nil, p.publisher.Publish(TopicAccepted, msg)
		})
		cancel()

		if err != nil {
			metrics.EventsPublished.WithLabelValues(ResultFailed).Inc()
			logging.Warn().Err(err).Str("packet_id", msg.UUID).Msg("Failed to publish accepted event")
			continue
		}
		metrics.EventsPublished.WithLabelValues(ResultPublished).Inc()
	}
}

// Close stops accepting events, drains the backlog for up to DrainTimeout
// and closes the underlying publisher. Events still queued after the
// deadline are dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.backlog)
	p.mu.Unlock()

	timer := time.NewTimer(p.config.DrainTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.cancel()
		logging.Warn().Int("pending", len(p.backlog)).Msg("Event backlog not drained before close")
	}
	p.cancel()
	return p.publisher.Close()
}

// DecodeAccepted parses a message produced by PublishAccepted.
func DecodeAccepted(msg *message.Message) (*models.AcceptedEvent, error) {
	var evt models.AcceptedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode accepted event: %w", err)
	}
	return &evt, nil
}
