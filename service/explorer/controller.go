package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/network"
	"github.com/brojonat/solvision/service/wallet"
)

// Status is the controller's position in the search cycle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

var (
	ErrEmptyAddress = errors.New("address is required")
	ErrNotReady     = errors.New("no wallet network loaded")
	ErrUnknownNode  = errors.New("node is not part of the current network")
)

// Fetcher retrieves the complete transaction list for a wallet or fails with a
// descriptive error. Timeouts and retries are the fetcher's own policy.
type Fetcher interface {
	FetchWalletData(ctx context.Context, address string) (*wallet.Data, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, address string) (*wallet.Data, error)

func (f FetcherFunc) FetchWalletData(ctx context.Context, address string) (*wallet.Data, error) {
	return f(ctx, address)
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Status     Status
	Address    string
	Wallet     *wallet.Data
	Graph      *network.Graph
	Selected   *network.Node
	Error      string
	Generation uint64
}

// Controller drives one analyst session through search, fetch, transform, select and resolve.
//
// All state lives behind a single mutex and is written only by the controller's own methods.
// The fetch is the one blocking step and runs without the lock held. Each search is tagged
// with a generation; a fetch result is applied only if no newer search started meanwhile,
// otherwise it is dropped silently.
type Controller struct {
	fetcher  Fetcher
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	status     Status
	address    string
	data       *wallet.Data
	graph      *network.Graph
	selected   *network.Node
	errMsg     string
	generation uint64
}

// NewController creates a controller in the idle state.
// If notifier is nil, notifications are logged. If metrics is nil, nothing is recorded.
func NewController(fetcher Fetcher, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Controller{
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		status:   StatusIdle,
	}
}

// Search looks up address and replaces the current network with the result.
//
// It blocks until the fetch completes. The returned error is only ErrEmptyAddress or the
// context's error; fetch failures become the error state rather than a return value.
func (c *Controller) Search(ctx context.Context, address string) error {
	if address == "" {
		return ErrEmptyAddress
	}

	gen := c.begin(address)
	start := time.Now()

	c.logger.DebugContext(ctx, "fetching wallet data",
		"address", address,
		"generation", gen,
	)

	data, err := c.fetcher.FetchWalletData(ctx, address)
	c.complete(ctx, gen, address, data, err, time.Since(start))

	return ctx.Err()
}

// begin moves the controller into loading for a new search and returns its generation.
// Selection and error are cleared before the fetch starts.
func (c *Controller) begin(address string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.status = StatusLoading
	c.address = address
	c.selected = nil
	c.errMsg = ""

	return c.generation
}

// complete applies a fetch outcome if gen is still the latest search. It reports whether the
// outcome was applied.
func (c *Controller) complete(ctx context.Context, gen uint64, address string, data *wallet.Data, fetchErr error, elapsed time.Duration) bool {
	if fetchErr == nil && data == nil {
		fetchErr = fmt.Errorf("no data returned for wallet %s", address)
	}

	c.mu.Lock()
	if gen != c.generation {
		current := c.generation
		c.mu.Unlock()

		c.logger.DebugContext(ctx, "discarding superseded search result",
			"address", address,
			"generation", gen,
			"current_generation", current,
		)
		if c.metrics != nil {
			c.metrics.RecordStaleResultDiscarded()
		}
		return false
	}

	var n Notification
	if fetchErr != nil {
		c.status = StatusError
		c.data = nil
		c.graph = nil
		c.errMsg = fetchErr.Error()
		n = errorNotification(address, gen, fetchErr)
	} else {
		c.status = StatusReady
		c.data = data
		c.graph = network.BuildNetwork(address, data.Transactions)
		n = successNotification(address, gen, len(data.Transactions))
	}
	graph := c.graph
	c.mu.Unlock()

	if fetchErr != nil {
		c.logger.WarnContext(ctx, "wallet search failed",
			"address", address,
			"generation", gen,
			"error", fetchErr,
		)
	} else {
		c.logger.InfoContext(ctx, "wallet network built",
			"address", address,
			"generation", gen,
			"transactions", len(data.Transactions),
			"nodes", len(graph.Nodes),
			"edges", len(graph.Edges),
		)
	}

	if c.metrics != nil {
		outcome := "success"
		switch {
		case fetchErr != nil:
			outcome = "error"
		case len(data.Transactions) == 0:
			outcome = "empty"
		}
		c.metrics.RecordSearch(outcome, elapsed.Seconds())
		if graph != nil {
			c.metrics.RecordGraphSize(len(graph.Nodes), len(graph.Edges))
		}
	}

	// Notification delivery failures are logged but never change the search outcome.
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.ErrorContext(ctx, "failed to deliver notification",
			"address", address,
			"level", n.Level,
			"error", err,
		)
	}

	return true
}

// Restore loads previously fetched wallet data as if a search had just succeeded, without
// notifying. It only applies to an idle controller and reports whether it did; once a search
// has started, that search owns the state.
func (c *Controller) Restore(data *wallet.Data) bool {
	if data == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusIdle {
		return false
	}

	c.generation++
	c.status = StatusReady
	c.address = data.Address
	c.data = data
	c.graph = network.BuildNetwork(data.Address, data.Transactions)
	c.selected = nil
	c.errMsg = ""
	return true
}

// SelectNode marks node as the current selection. Selecting the already selected node is a
// no-op.
func (c *Controller) SelectNode(node network.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusReady || c.graph == nil {
		return ErrNotReady
	}

	current, ok := c.graph.Node(node.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node.ID)
	}

	if c.selected != nil && c.selected.ID == current.ID {
		return nil
	}
	c.selected = &current
	return nil
}

// ClearSelection drops the current selection.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
}

// DetailTransactions returns the current selection together with the records to show for it:
// every record for the root, the resolved subset for a counterparty. Both come from the same
// state, so a concurrent select or search never pairs one node with another's records. ok is
// false when there is no graph or nothing is selected.
func (c *Controller) DetailTransactions() (selected network.Node, txns []wallet.Transaction, ok bool) {
	c.mu.Lock()
	graph, data, sel := c.graph, c.data, c.selected
	c.mu.Unlock()

	if graph == nil || data == nil || sel == nil {
		return network.Node{}, nil, false
	}

	txns = slices.Collect(graph.ResolveTransactions(*sel, data.Transactions))
	if txns == nil {
		txns = []wallet.Transaction{}
	}
	return *sel, txns, true
}

// Snapshot returns a copy of the current state. Wallet data and graph are shared, not copied;
// they are never mutated once stored.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Status:     c.status,
		Address:    c.address,
		Wallet:     c.data,
		Graph:      c.graph,
		Error:      c.errMsg,
		Generation: c.generation,
	}
	if c.selected != nil {
		sel := *c.selected
		s.Selected = &sel
	}
	return s
}
