package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solvision/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listLookupsCommand() *cli.Command {
	return &cli.Command{
		Name:    "lookups",
		Usage:   "List persisted lookups, most recent first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of lookups to show",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			lookups, err := store.ListLookups(c.Context, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list lookups: %w", err)
			}

			return render(c, lookups, func(w io.Writer) error {
				// Pretty table output
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tADDRESS\tTXNS\tFETCHED")
				for _, l := range lookups {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
						l.SessionID,
						l.Address,
						l.TransactionCount,
						l.FetchedAt.Format(time.RFC3339),
					)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(stderr(c), "\nTotal: %d lookups\n", len(lookups))
				return nil
			})
		},
	}
}

func pruneLookupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete lookups fetched before a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Delete lookups fetched longer ago than this",
				Value: 7 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			olderThan := c.Duration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-olderThan)
			n, err := store.PruneLookups(c.Context, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune lookups: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Deleted %d lookups fetched before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
}

// getStore connects to the database named by --database-url and returns the store with its closer.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := db.NewStore(pool, nil)
	if err := store.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	closer := func() { pool.Close() }
	return store, closer, nil
}
