package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solvision/client"
	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// render writes v as JSON when --json or --jq is set, and through pretty otherwise.
func render(c *cli.Context, v any, pretty func(w io.Writer) error) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		results, err := runJQ(filter, v)
		if err != nil {
			return err
		}
		for _, r := range results {
			if err := outputJSON(w, r); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Bool("json") {
		return outputJSON(w, v)
	}
	return pretty(w)
}

// runJQ evaluates filter against the JSON form of v and collects every emitted value.
func runJQ(filter string, v any) ([]any, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only understands plain JSON values
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	var results []any
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := result.(error); ok {
			return nil, fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, s wallet.Summary) {
	fmt.Fprintf(w, "Address:         %s\n", s.Address)
	fmt.Fprintf(w, "Transactions:    %d\n", s.TransactionCount)
	fmt.Fprintf(w, "Counterparties:  %d\n", s.Counterparties)
	fmt.Fprintf(w, "Sent:            %s\n", formatAmount(s.SentVolume))
	fmt.Fprintf(w, "Received:        %s\n", formatAmount(s.ReceivedVolume))
	if s.FirstSeen != nil && s.LastSeen != nil {
		fmt.Fprintf(w, "Active:          %s to %s\n", s.FirstSeen.Format(time.RFC3339), s.LastSeen.Format(time.RFC3339))
	}
}

func printGraph(w io.Writer, g *network.Graph) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tDIRECTION\tTXNS\tVOLUME\tWEIGHT")
	for _, node := range g.Nodes {
		if node.IsRoot {
			fmt.Fprintf(tw, "%s\t(root)\t%d\t%s\t-\n", node.ID, node.TransactionCount, formatAmount(node.TotalVolume))
			continue
		}
		edge, _ := g.Edge(node.ID)
		direction := "outgoing"
		if edge.Target == g.Root {
			direction = "incoming"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.2f\n",
			node.ID,
			direction,
			edge.TransactionCount,
			formatAmount(edge.TotalVolume),
			edge.Weight,
		)
	}
	return tw.Flush()
}

func printTransactions(w io.Writer, txns []wallet.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tTIME\tFROM\tTO\tAMOUNT\tTYPE")
	for _, txn := range txns {
		ts := "unknown"
		if !txn.Timestamp.IsZero() {
			ts = txn.Timestamp.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shorten(txn.Signature),
			ts,
			formatOptionalAddress(txn.FromAddress),
			formatOptionalAddress(txn.ToAddress),
			formatAmount(txn.Amount),
			txn.Type,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal: %d transactions\n", len(txns))
	return nil
}

func printSession(w io.Writer, s *client.Session) {
	fmt.Fprintf(w, "Session:     %s\n", s.ID)
	fmt.Fprintf(w, "Status:      %s\n", s.Status)
	if s.Address != "" {
		fmt.Fprintf(w, "Address:     %s\n", s.Address)
	}
	fmt.Fprintf(w, "Generation:  %d\n", s.Generation)
	if s.LastError != "" {
		fmt.Fprintf(w, "Error:       %s\n", s.LastError)
	}
	if s.Status == "ready" {
		fmt.Fprintf(w, "Network:     %d nodes, %d edges\n", s.NodeCount, s.EdgeCount)
	}
	if s.Selected != nil {
		fmt.Fprintf(w, "Selected:    %s\n", s.Selected.ID)
	}
	if s.Summary != nil {
		fmt.Fprintln(w)
		printSummary(w, *s.Summary)
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// Helper function to format optional address
func formatOptionalAddress(addr string) string {
	if addr == "" {
		return "(unknown)"
	}
	return addr
}

// shorten trims long signatures for table output.
func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "..." + s[len(s)-5:]
}
