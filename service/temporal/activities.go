package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solvision/service/solana"
	"github.com/brojonat/solvision/service/wallet"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// ErrTypeInvalidAddress is the application error type for addresses that can never be fetched.
// Workflows do not retry it.
const ErrTypeInvalidAddress = "InvalidAddress"

// FetchWalletInput contains the input parameters for fetching a wallet.
type FetchWalletInput struct {
	Address string `json:"address"`
}

// FetchWalletResult contains the fetched wallet history and its summary.
type FetchWalletResult struct {
	Address      string               `json:"address"`
	Transactions []wallet.Transaction `json:"transactions"`
	Summary      wallet.Summary       `json:"summary"`
	FetchedAt    time.Time            `json:"fetched_at"`
}

// FetchWalletDataInput contains parameters for the FetchWalletData activity.
type FetchWalletDataInput struct {
	Address string `json:"address"`
}

// FetchWalletDataResult contains the result of the FetchWalletData activity.
type FetchWalletDataResult struct {
	Address      string               `json:"address"`
	Transactions []wallet.Transaction `json:"transactions"`
}

// WalletFetcherInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type WalletFetcherInterface interface {
	FetchWalletData(ctx context.Context, address string) (*wallet.Data, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	fetcher WalletFetcherInterface
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(fetcher WalletFetcherInterface, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchWalletData fetches the transaction history of a wallet from Solana.
// Invalid addresses fail with a non-retryable application error; anything else is left to the
// activity retry policy.
func (a *Activities) FetchWalletData(ctx context.Context, input FetchWalletDataInput) (*FetchWalletDataResult, error) {
	start := time.Now()

	a.logger.DebugContext(ctx, "fetching wallet data", "address", input.Address)

	data, err := a.fetcher.FetchWalletData(ctx, input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch wallet data",
			"address", input.Address,
			"error", err,
		)
		if errors.Is(err, solana.ErrInvalidAddress) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidAddress, nil)
		}
		return nil, fmt.Errorf("failed to fetch wallet data: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("no data returned for wallet %s", input.Address)
	}

	a.logger.InfoContext(ctx, "fetched wallet data",
		"address", input.Address,
		"transaction_count", len(data.Transactions),
		"duration", time.Since(start),
	)

	return &FetchWalletDataResult{
		Address:      data.Address,
		Transactions: data.Transactions,
	}, nil
}
