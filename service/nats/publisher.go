package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing notification events to NATS.
type Publisher interface {
	// PublishNotification publishes a notification event to JetStream on the subject
	// "notifications.{session_id}".
	PublishNotification(ctx context.Context, event *NotificationEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes notification events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for notifications.
	StreamName = "NOTIFICATIONS"

	// SubjectPrefix prefixes the session id in per-session subjects.
	SubjectPrefix = "notifications."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "notifications.*"

	// StreamRetention is how long messages are retained. Notifications only matter while the
	// analyst is looking at the session.
	StreamRetention = 24 * time.Hour
)

// connect dials NATS and opens a JetStream context.
func connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return nc, js, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. If metrics is nil, nothing is recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, js, err := connect(natsURL, "solvision-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Wallet search notifications per analyst session",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishNotification publishes a single notification event.
func (p *JetStreamPublisher) PublishNotification(ctx context.Context, event *NotificationEvent) error {
	start := time.Now()
	subject := Subject(event.SessionID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(string(event.Level), status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.DebugContext(ctx, "published notification event",
		"subject", subject,
		"level", event.Level,
		"address", event.Address,
		"generation", event.Generation,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// sessionNotifier publishes a controller's notifications on its session subject.
type sessionNotifier struct {
	publisher Publisher
	sessionID string
}

// Notifier returns an explorer.Notifier that publishes every notification for sessionID.
func Notifier(p Publisher, sessionID string) explorer.Notifier {
	return &sessionNotifier{publisher: p, sessionID: sessionID}
}

func (n *sessionNotifier) Notify(ctx context.Context, note explorer.Notification) error {
	return n.publisher.PublishNotification(ctx, FromNotification(n.sessionID, note))
}
