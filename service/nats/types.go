package nats

import (
	"time"

	"github.com/brojonat/solvision/service/explorer"
)

// NotificationEvent is a search outcome notification published to NATS.
// This is published to the subject "notifications.{session_id}" in JetStream.
type NotificationEvent struct {
	SessionID  string         `json:"session_id"`
	Level      explorer.Level `json:"level"`
	Message    string         `json:"message"`
	Address    string         `json:"address"`
	Generation uint64         `json:"generation"`

	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromNotification converts a controller notification to a NotificationEvent for publishing.
func FromNotification(sessionID string, n explorer.Notification) *NotificationEvent {
	return &NotificationEvent{
		SessionID:   sessionID,
		Level:       n.Level,
		Message:     n.Message,
		Address:     n.Address,
		Generation:  n.Generation,
		CreatedAt:   n.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the subject notifications for a session are published on.
// An empty session id yields the wildcard subject covering every session.
func Subject(sessionID string) string {
	if sessionID == "" {
		return StreamSubjects
	}
	return SubjectPrefix + sessionID
}
