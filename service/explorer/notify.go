package explorer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Level classifies a search outcome notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is emitted exactly once per applied search outcome.
type Notification struct {
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	Address    string    `json:"address"`
	Generation uint64    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notifier delivers notifications to whatever presents them to the analyst.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to a structured logger. It is the default when nothing
// else is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message,
		"address", n.Address,
		"generation", n.Generation,
	)
	return nil
}

func successNotification(address string, generation uint64, count int) Notification {
	n := Notification{
		Level:      LevelInfo,
		Message:    fmt.Sprintf("Found %d transactions for this wallet", count),
		Address:    address,
		Generation: generation,
		CreatedAt:  time.Now().UTC(),
	}
	if count == 0 {
		n.Level = LevelWarning
		n.Message = "No transactions found for this wallet"
	}
	return n
}

func errorNotification(address string, generation uint64, err error) Notification {
	return Notification{
		Level:      LevelError,
		Message:    fmt.Sprintf("Error: %s", err.Error()),
		Address:    address,
		Generation: generation,
		CreatedAt:  time.Now().UTC(),
	}
}
