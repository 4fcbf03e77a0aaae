package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber delivers notification events as they are published.
type Subscriber interface {
	// Subscribe streams events for sessionID (every session when empty) published after the
	// call. The channel is closed once ctx is done.
	Subscribe(ctx context.Context, sessionID string) (<-chan *NotificationEvent, error)

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamSubscriber consumes notification events from NATS JetStream.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(natsURL string, logger *slog.Logger) (*JetStreamSubscriber, error) {
	nc, js, err := connect(natsURL, "solvision-subscriber")
	if err != nil {
		return nil, err
	}

	logger.Info("NATS subscriber initialized", "url", natsURL)

	return &JetStreamSubscriber{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Subscribe creates an ephemeral consumer that only delivers messages published after it
// was created.
func (s *JetStreamSubscriber) Subscribe(ctx context.Context, sessionID string) (<-chan *NotificationEvent, error) {
	subject := Subject(sessionID)

	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	out := make(chan *NotificationEvent, 10)
	var (
		mu     sync.Mutex
		closed bool
	)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event NotificationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal notification event",
				"subject", msg.Subject(),
				"error", err,
			)
			_ = msg.Ack()
			return
		}
		_ = msg.Ack()

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- &event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()

		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	s.logger.DebugContext(ctx, "subscribed to notifications", "subject", subject)

	return out, nil
}

// Close closes the NATS connection.
func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
