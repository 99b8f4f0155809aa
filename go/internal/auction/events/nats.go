package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSubjectPrefix = "auction.events"

	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second
)

// Conn is the part of *nats.Conn the bridge needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSBridge forwards bus events to NATS subjects <prefix>.<type>.
type NATSBridge struct {
	conn   Conn
	prefix string
}

func NewNATSBridge(conn Conn, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (b *NATSBridge) Subject(t Type) string {
	return fmt.Sprintf("%s.%s", b.prefix, t)
}

// Forward publishes one event.
func (b *NATSBridge) Forward(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(b.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Attach subscribes the bridge to bus and returns the unsubscribe function.
func (b *NATSBridge) Attach(bus *Bus, types ...Type) func() {
	return bus.Subscribe(func(e Event) {
		if err := b.Forward(e); err != nil {
			log.Error().Err(err).Str("event_id", e.ID).Msg("failed to forward event to NATS")
		}
	}, types...)
}

// ConnectNATS opens a reconnecting NATS connection.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("auctionsync"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}
