package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brojonat/solvision/client"
	"github.com/urfave/cli/v2"
)

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Drive an explorer session on a solvision server",
		Subcommands: []*cli.Command{
			createSessionCommand(),
			getSessionCommand(),
			deleteSessionCommand(),
			searchCommand(),
			graphCommand(),
			selectCommand(),
			clearSelectionCommand(),
			transactionsCommand(),
			qrCodeCommand(),
		},
	}
}

func createSessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Start a new session",
		Action: func(c *cli.Context) error {
			session, err := newClient(c).CreateSession(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
			return render(c, session, func(w io.Writer) error {
				printSession(w, session)
				return nil
			})
		},
	}
}

func getSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a session",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := requireArgs(c, 1, "session id")
			if err != nil {
				return err
			}
			session, err := newClient(c).GetSession(c.Context, id[0])
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}
			return render(c, session, func(w io.Writer) error {
				printSession(w, session)
				return nil
			})
		},
	}
}

func deleteSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "End a session and forget its lookup",
		Aliases:   []string{"rm"},
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := requireArgs(c, 1, "session id")
			if err != nil {
				return err
			}
			if err := newClient(c).DeleteSession(c.Context, id[0]); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Session %s deleted\n", id[0])
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search a wallet in a session",
		ArgsUsage: "SESSION_ID WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Return as soon as the server accepts the search",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often to check whether the search finished",
				Value: 500 * time.Millisecond,
			},
		},
		Action: func(c *cli.Context) error {
			args, err := requireArgs(c, 2, "session id and wallet address")
			if err != nil {
				return err
			}
			cl := newClient(c)

			ack, err := cl.Search(c.Context, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to start search: %w", err)
			}
			if c.Bool("no-wait") {
				return render(c, ack, func(w io.Writer) error {
					fmt.Fprintf(w, "Search for %s started in session %s\n", ack.Address, ack.SessionID)
					return nil
				})
			}

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(stderr(c), "Searching %s...\n", ack.Address)
			}

			ctx, cancel := contextWithTimeout(c)
			defer cancel()
			session, err := cl.WaitForSearch(ctx, ack, c.Duration("poll-interval"))
			if err != nil {
				return err
			}
			return render(c, session, func(w io.Writer) error {
				printSession(w, session)
				return nil
			})
		},
	}
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Usage:     "Show the session's current network",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := requireArgs(c, 1, "session id")
			if err != nil {
				return err
			}
			graph, err := newClient(c).Graph(c.Context, id[0])
			if err != nil {
				return fmt.Errorf("failed to get graph: %w", err)
			}
			return render(c, graph, func(w io.Writer) error {
				return printGraph(w, graph)
			})
		},
	}
}

func selectCommand() *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Select a node and list its transactions",
		ArgsUsage: "SESSION_ID NODE_ADDRESS",
		Action: func(c *cli.Context) error {
			args, err := requireArgs(c, 2, "session id and node address")
			if err != nil {
				return err
			}
			detail, err := newClient(c).SelectNode(c.Context, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to select node: %w", err)
			}
			return render(c, detail, func(w io.Writer) error {
				return printDetail(w, detail)
			})
		},
	}
}

func clearSelectionCommand() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Drop the session's selection",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := requireArgs(c, 1, "session id")
			if err != nil {
				return err
			}
			if err := newClient(c).ClearSelection(c.Context, id[0]); err != nil {
				return fmt.Errorf("failed to clear selection: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Selection cleared")
			return nil
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txns", "tx"},
		Usage:     "List the transactions behind the current selection",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := requireArgs(c, 1, "session id")
			if err != nil {
				return err
			}
			detail, err := newClient(c).Transactions(c.Context, id[0])
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			return render(c, detail, func(w io.Writer) error {
				return printDetail(w, detail)
			})
		},
	}
}

func qrCodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "qr",
		Usage:     "Save a node's address as a QR code PNG",
		ArgsUsage: "SESSION_ID NODE_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write the PNG to",
				Value:   "node.png",
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "Image width and height in pixels (0 lets the server choose)",
			},
		},
		Action: func(c *cli.Context) error {
			args, err := requireArgs(c, 2, "session id and node address")
			if err != nil {
				return err
			}
			png, err := newClient(c).NodeQRCode(c.Context, args[0], args[1], c.Int("size"))
			if err != nil {
				return fmt.Errorf("failed to get QR code: %w", err)
			}

			output := c.String("output")
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(c.App.Writer, "✓ QR code for %s written to %s\n", args[1], output)
			return nil
		},
	}
}

func printDetail(w io.Writer, d *client.Detail) error {
	if d.Selected != nil {
		fmt.Fprintf(w, "Selected: %s\n\n", d.Selected.ID)
	}
	return printTransactions(w, d.Transactions)
}

// requireArgs returns exactly n positional arguments or a usage error naming them.
func requireArgs(c *cli.Context, n int, what string) ([]string, error) {
	if c.NArg() != n {
		return nil, fmt.Errorf("requires %s", what)
	}
	return c.Args().Slice(), nil
}
