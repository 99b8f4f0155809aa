package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStreamName     = "AUCTION_EVENTS"
	defaultPublishTimeout = 5 * time.Second
)

// JetStreamConn publishes onto a JetStream stream so consumers can replay
// events they missed.
type JetStreamConn struct {
	js      jetstream.JetStream
	timeout time.Duration
}

// NewJetStreamConn ensures a stream capturing <prefix>.> exists and returns a
// Conn publishing to it.
func NewJetStreamConn(ctx context.Context, nc *nats.Conn, stream, prefix string) (*JetStreamConn, error) {
	if stream == "" {
		stream = DefaultStreamName
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{prefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}

	log.Info().Str("stream", stream).Str("subjects", prefix+".>").Msg("JetStream stream ready")
	return &JetStreamConn{js: js, timeout: defaultPublishTimeout}, nil
}

func (c *JetStreamConn) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}
