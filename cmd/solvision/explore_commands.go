package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/solana"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/urfave/cli/v2"
)

// exploreResult is everything one local lookup produced.
type exploreResult struct {
	Summary      wallet.Summary       `json:"summary"`
	Graph        *network.Graph       `json:"graph"`
	Selected     *network.Node        `json:"selected,omitempty"`
	Transactions []wallet.Transaction `json:"transactions,omitempty"`
}

// newFetcher builds the fetcher used by explore. Tests replace it.
var newFetcher = func(c *cli.Context, logger *slog.Logger) (explorer.Fetcher, error) {
	endpoint, err := solana.SelectRandomEndpoint(c.StringSlice("rpc-url"))
	if err != nil {
		return nil, err
	}
	opts := solana.FetchOptions{
		Limit:        c.Int("limit"),
		RequestDelay: c.Duration("request-delay"),
	}
	return solana.NewClient(solana.NewRPCClient(endpoint), "cli", opts, nil, logger), nil
}

func exploreCommand() *cli.Command {
	return &cli.Command{
		Name:      "explore",
		Usage:     "Look up a wallet directly against Solana RPC and print its network",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Fetches the most recent transactions of a wallet, builds its counterparty network and
prints it. No server is involved.

Examples:
  solvision explore 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
  solvision explore 9WzD... --select 5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1
  solvision --jq '.graph.nodes | length' explore 9WzD...`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint(s); one is picked at random",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions to fetch",
				Value:   50,
			},
			&cli.DurationFlag{
				Name:  "request-delay",
				Usage: "Pause between RPC calls",
				Value: 600 * time.Millisecond,
			},
			&cli.StringFlag{
				Name:  "select",
				Usage: "Address of a node whose transactions to list",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address := c.Args().First()
			logger := newLogger(c)

			fetcher, err := newFetcher(c, logger)
			if err != nil {
				return err
			}

			// Outcome notifications go to stderr so stdout stays machine readable.
			notifier := explorer.NotifierFunc(func(ctx context.Context, n explorer.Notification) error {
				if !c.Bool("json") && c.String("jq") == "" {
					fmt.Fprintf(stderr(c), "[%s] %s\n", n.Level, n.Message)
				}
				return nil
			})

			ctx, cancel := contextWithTimeout(c)
			defer cancel()

			controller := explorer.NewController(fetcher, notifier, nil, logger)
			if err := controller.Search(ctx, address); err != nil {
				return fmt.Errorf("lookup of %s did not complete: %w", address, err)
			}

			snap := controller.Snapshot()
			if snap.Status == explorer.StatusError {
				return fmt.Errorf("lookup of %s failed: %s", address, snap.Error)
			}

			result := exploreResult{
				Summary: wallet.Summarize(snap.Wallet),
				Graph:   snap.Graph,
			}

			if id := c.String("select"); id != "" {
				node, ok := snap.Graph.Node(id)
				if !ok {
					return fmt.Errorf("%w: %s", explorer.ErrUnknownNode, id)
				}
				if err := controller.SelectNode(node); err != nil {
					return err
				}
				selected, txns, _ := controller.DetailTransactions()
				result.Selected = &selected
				result.Transactions = txns
			}

			return render(c, result, func(w io.Writer) error {
				printSummary(w, result.Summary)
				fmt.Fprintln(w)
				if err := printGraph(w, result.Graph); err != nil {
					return err
				}
				if result.Selected != nil {
					fmt.Fprintf(w, "\nTransactions for %s:\n", result.Selected.ID)
					return printTransactions(w, result.Transactions)
				}
				return nil
			})
		},
	}
}
