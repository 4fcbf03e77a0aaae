package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/solvision/client"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solvision",
		Usage: "Solana wallet network explorer CLI",
		Description: `A command-line tool for exploring the transaction network of Solana wallets.

Use "explore" to look up a wallet directly against Solana RPC, or the "session" commands
to drive a running solvision server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			exploreCommand(),
			sessionCommands(),
			notificationCommands(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listLookupsCommand(),
					pruneLookupsCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "solvision server URL",
				EnvVars: []string{"SOLVISION_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long a lookup may take",
				Value:   3 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (implies JSON)",
			},
		},
	}
}

// newLogger creates the diagnostics logger. Only errors reach stderr unless --log-level says otherwise.
func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		level = slog.LevelError
	}
	errWriter := c.App.ErrWriter
	if errWriter == nil {
		errWriter = io.Writer(os.Stderr)
	}
	return slog.New(slog.NewJSONHandler(errWriter, &slog.HandlerOptions{Level: level}))
}

// newClient creates an API client for the configured server.
func newClient(c *cli.Context) *client.Client {
	httpClient := &http.Client{
		Timeout: c.Duration("timeout") + 30*time.Second, // Add buffer beyond server timeout
	}
	return client.NewClient(c.String("server-url"), httpClient, newLogger(c))
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// contextWithTimeout bounds a command by the global --timeout.
func contextWithTimeout(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}
