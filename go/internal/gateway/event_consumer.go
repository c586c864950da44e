package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/go/internal/events"
	"github.com/mcdev12/roundsync/go/internal/outbox"
)

// JetStreamConsumerConfig holds configuration for the relay consumer.
type JetStreamConsumerConfig struct {
	URL        string
	StreamName string
	// ConsumerPrefix and InstanceID name this process's consumer. Every
	// server process needs its own consumer because rooms live in exactly
	// one process and a shared consumer would split events between them.
	ConsumerPrefix string
	InstanceID     string
	SubjectFilter  string
	MaxDeliver     int
	AckWait        time.Duration
	MaxAckPending  int
	// InactiveThreshold lets the server remove consumers of dead processes.
	InactiveThreshold time.Duration
	MaxReconnects     int
	ReconnectWait     time.Duration
}

// DefaultJetStreamConsumerConfig returns default consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:               nats.DefaultURL,
		StreamName:        "ROUND_EVENTS",
		ConsumerPrefix:    "round-gateway",
		InstanceID:        defaultInstanceID(),
		SubjectFilter:     "rounds.events.>",
		MaxDeliver:        3,
		AckWait:           10 * time.Second,
		MaxAckPending:     256,
		InactiveThreshold: 5 * time.Minute,
		MaxReconnects:     -1,
		ReconnectWait:     2 * time.Second,
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ConsumerName is the per-process consumer name. NATS names may not contain
// dots, spaces or wildcards.
func (c JetStreamConsumerConfig) ConsumerName() string {
	r := strings.NewReplacer(".", "-", " ", "-", "*", "-", ">", "-")
	return r.Replace(c.ConsumerPrefix + "-" + c.InstanceID)
}

// EventConsumer consumes relay events from JetStream and hands them to the
// room sessions of this process.
type EventConsumer struct {
	sink     outbox.Sink
	nc       *nats.Conn
	consumer jetstream.Consumer
	config   JetStreamConsumerConfig
}

// NewEventConsumer connects to NATS and creates this process's consumer.
func NewEventConsumer(sink outbox.Sink, config JetStreamConsumerConfig) (*EventConsumer, error) {
	nc, err := outbox.ConnectNATS(config.URL, config.MaxReconnects, config.ReconnectWait)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Relay events only wake rooms that are live right now, so a new process
	// starts at the tail of the stream.
	name := config.ConsumerName()
	consumer, err := js.CreateOrUpdateConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Name:              name,
		Description:       "Room session relay consumer",
		FilterSubject:     config.SubjectFilter,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        config.MaxDeliver,
		AckWait:           config.AckWait,
		MaxAckPending:     config.MaxAckPending,
		InactiveThreshold: config.InactiveThreshold,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s on %s: %w", name, config.StreamName, err)
	}

	log.Info().
		Str("consumer", name).
		Str("stream", config.StreamName).
		Str("filter", config.SubjectFilter).
		Msg("relay consumer ready")

	return &EventConsumer{
		sink:     sink,
		nc:       nc,
		consumer: consumer,
		config:   config,
	}, nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	cc, err := ec.consumer.Consume(
		func(msg jetstream.Msg) { ec.process(ctx, msg) },
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			log.Warn().Err(err).Str("consumer", ec.config.ConsumerName()).Msg("relay consume error")
		}),
	)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	log.Info().Str("consumer", ec.config.ConsumerName()).Msg("relay consumer shutting down")
	return nil
}

func (ec *EventConsumer) process(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		_ = msg.Nak()
		return
	}
	if err := ec.HandleMessage(ctx, msg.Data()); err != nil {
		// Malformed envelopes never decode; redelivery would only repeat this.
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping relay message")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to terminate relay message")
		}
		return
	}
	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("failed to ack relay message")
	}
}

// HandleMessage decodes one relay envelope and dispatches it.
func (ec *EventConsumer) HandleMessage(ctx context.Context, data []byte) error {
	var envelope outbox.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if envelope.RoomID == "" {
		return fmt.Errorf("event %s has no room id", envelope.EventID)
	}
	if !events.Known(envelope.EventType) {
		return fmt.Errorf("unknown event type: %s", envelope.EventType)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("room_id", envelope.RoomID).
		Str("event_type", envelope.EventType).
		Dur("lag", time.Since(envelope.Timestamp)).
		Msg("dispatching relay event")

	ec.sink.DispatchRelayEvent(ctx, envelope.RoomID, envelope.EventType, envelope.Payload)
	return nil
}

// Stop closes the NATS connection. The consumer itself is left for the
// server to expire.
func (ec *EventConsumer) Stop() error {
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}

// Info returns the consumer's server-side state.
func (ec *EventConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return ec.consumer.Info(ctx)
}
