package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/solvision/service/wallet"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// FetchWalletWorkflow retrieves the complete transaction list of one wallet.
//
// The fetch activity is retried with backoff for transient RPC failures, but never for an
// invalid address. The result carries the wallet summary so callers that only need totals
// do not have to walk the transactions.
func FetchWalletWorkflow(ctx workflow.Context, input FetchWalletInput) (*FetchWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("FetchWalletWorkflow started", "address", input.Address)

	// Fetching a full page of history sleeps between RPC calls, so allow for minutes.
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidAddress},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var fetched *FetchWalletDataResult
	err := workflow.ExecuteActivity(ctx, a.FetchWalletData, FetchWalletDataInput{Address: input.Address}).Get(ctx, &fetched)
	if err != nil {
		logger.Error("failed to fetch wallet", "address", input.Address, "error", err)
		// Returned as is so the activity's application error stays the innermost cause.
		return nil, err
	}
	if fetched == nil {
		return nil, fmt.Errorf("no data returned for wallet %s", input.Address)
	}

	data := &wallet.Data{
		Address:      fetched.Address,
		Transactions: fetched.Transactions,
	}
	if data.Address == "" {
		data.Address = input.Address
	}
	if data.Transactions == nil {
		data.Transactions = []wallet.Transaction{}
	}

	result := &FetchWalletResult{
		Address:      data.Address,
		Transactions: data.Transactions,
		Summary:      wallet.Summarize(data),
		FetchedAt:    workflow.Now(ctx),
	}

	logger.Info("FetchWalletWorkflow completed successfully",
		"address", input.Address,
		"transaction_count", len(result.Transactions),
		"counterparties", result.Summary.Counterparties,
	)

	return result, nil
}
