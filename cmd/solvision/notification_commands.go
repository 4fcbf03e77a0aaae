package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solvision/client"
	natspkg "github.com/brojonat/solvision/service/nats"
	"github.com/urfave/cli/v2"
)

func notificationCommands() *cli.Command {
	return &cli.Command{
		Name:    "notifications",
		Aliases: []string{"notify"},
		Usage:   "Search outcome notification commands",
		Subcommands: []*cli.Command{
			watchCommand(),
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a session's search notifications",
		ArgsUsage: "[SESSION_ID]",
		Description: `Streams notifications as searches in the session complete.

By default notifications are read from the server's SSE endpoint. With --nats they are read
straight from NATS JetStream, and the session id may be omitted to watch every session.

Examples:
  solvision notifications watch 0b6c5d8e-3f0e-4f8e-9d7a-6a0f2f4d1c11
  solvision --nats-url nats://localhost:4222 notifications watch --nats`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "nats",
				Usage: "Read notifications from NATS instead of the server",
			},
		},
		Action: func(c *cli.Context) error {
			sessionID := c.Args().First()
			if sessionID == "" && !c.Bool("nats") {
				return fmt.Errorf("session id is required unless --nats is set")
			}

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if c.Bool("nats") {
				return watchNATS(ctx, c, sessionID)
			}

			if !c.Bool("json") {
				fmt.Fprintf(stderr(c), "Watching notifications for session %s... (Ctrl+C to stop)\n\n", sessionID)
			}
			return newClient(c).StreamNotifications(ctx, sessionID, func(n *client.Notification) error {
				return printNotification(c.App.Writer, c.Bool("json"), n)
			})
		},
	}
}

func watchNATS(ctx context.Context, c *cli.Context, sessionID string) error {
	subscriber, err := natspkg.NewSubscriber(c.String("nats-url"), newLogger(c))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer subscriber.Close()

	events, err := subscriber.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if !c.Bool("json") {
		target := sessionID
		if target == "" {
			target = "all sessions"
		}
		fmt.Fprintf(stderr(c), "Subscribed to %s for %s (Ctrl+C to stop)\n\n", natspkg.Subject(sessionID), target)
	}

	for event := range events {
		n := &client.Notification{
			SessionID:   event.SessionID,
			Level:       string(event.Level),
			Message:     event.Message,
			Address:     event.Address,
			Generation:  event.Generation,
			CreatedAt:   event.CreatedAt,
			PublishedAt: event.PublishedAt,
		}
		if err := printNotification(c.App.Writer, c.Bool("json"), n); err != nil {
			return err
		}
	}
	return nil
}

func printNotification(w io.Writer, asJSON bool, n *client.Notification) error {
	if asJSON {
		return outputJSON(w, n)
	}

	icon := "✓"
	switch n.Level {
	case "warning":
		icon = "!"
	case "error":
		icon = "✗"
	}
	_, err := fmt.Fprintf(w, "%s %s [%s] %s (address: %s, session: %s, generation: %d)\n",
		n.CreatedAt.Local().Format(time.TimeOnly), icon, n.Level, n.Message, n.Address, n.SessionID, n.Generation)
	return err
}
