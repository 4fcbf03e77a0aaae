package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client fetches the transaction history of a wallet and parses it into wallet records.
type Client struct {
	rpc      RPCClient
	opts     FetchOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, opts FetchOptions, m *metrics.Metrics, logger *slog.Logger) *Client {
	defaults := DefaultFetchOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RequestDelay < 0 {
		opts.RequestDelay = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	return &Client{
		rpc:      rpcClient,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// FetchWalletData returns the most recent transactions of address, newest first.
//
// The address must be valid base58. Signatures seen twice are kept once. A transaction whose
// details cannot be retrieved after retries is kept with signature metadata only. Listing
// signatures failing, or ctx ending, fails the whole fetch.
func (c *Client) FetchWalletData(ctx context.Context, address string) (*wallet.Data, error) {
	root, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	signatures, err := c.getSignatures(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", address, err)
	}

	seen := make(map[string]struct{}, len(signatures))
	transactions := make([]wallet.Transaction, 0, len(signatures))

	for i, sig := range signatures {
		if sig == nil {
			continue
		}

		key := sig.Signature.String()
		if _, exists := seen[key]; exists {
			c.logger.DebugContext(ctx, "skipping duplicate signature", "signature", key)
			if c.metrics != nil {
				c.metrics.RecordTransactionsSkipped("duplicate", 1)
			}
			continue
		}
		seen[key] = struct{}{}

		// Failed transactions carry no value movement; the signature metadata is enough.
		if sig.Err != nil {
			transactions = append(transactions, signatureRecord(root, sig))
			if c.metrics != nil {
				c.metrics.RecordTransactionParsed(wallet.TypeFailed, "success")
			}
			continue
		}

		if i > 0 {
			if err := c.pause(ctx); err != nil {
				return nil, fmt.Errorf("fetch for %s interrupted: %w", address, err)
			}
		}

		result, err := c.getTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch for %s interrupted: %w", address, ctx.Err())
			}
			c.logger.WarnContext(ctx, "failed to get transaction details after retries, using metadata only",
				"signature", key,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordTransactionParsed("unknown", "unavailable")
			}
			transactions = append(transactions, signatureRecord(root, sig))
			continue
		}

		txn, err := parseTransactionFromResult(root, sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", key,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordTransactionParsed("unknown", "error")
			}
			transactions = append(transactions, signatureRecord(root, sig))
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordTransactionParsed(txn.Type, "success")
		}
		transactions = append(transactions, txn)
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsFetched("rpc", len(transactions))
	}

	c.logger.InfoContext(ctx, "fetched and parsed transactions",
		"wallet", address,
		"signatures", len(signatures),
		"count", len(transactions),
	)

	return &wallet.Data{
		Address:      root.String(),
		Transactions: transactions,
	}, nil
}

func (c *Client) getSignatures(ctx context.Context, root solana.PublicKey) ([]*rpc.TransactionSignature, error) {
	limit := c.opts.Limit
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", root.String(),
		"limit", limit,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, root, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", root.String(),
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetSignaturesForAddress", status, c.endpoint, duration)
		if err == nil {
			c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
		}
	}

	return signatures, err
}

// getTransaction fetches full transaction details with exponential backoff.
// Versioned decoding failures switch to legacy options for the remaining attempts.
func (c *Client) getTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	txnOpts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	return retry.DoWithData(
		func() (*rpc.GetTransactionResult, error) {
			start := time.Now()
			result, err := c.rpc.GetTransaction(ctx, signature, txnOpts)
			status := "success"
			if err != nil {
				status = "error"
			}
			if c.metrics != nil {
				c.metrics.RecordRPCCall("GetTransaction", status, c.endpoint, time.Since(start).Seconds())
			}
			return result, err
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.MaxAttempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			reason := "timeout_or_error"
			switch {
			case isRateLimited(err):
				reason = "rate_limit"
				if c.metrics != nil {
					c.metrics.RecordRateLimitHit(c.endpoint)
				}
			case isVersionedDecodeError(err):
				reason = "parse_error"
				txnOpts = &rpc.GetTransactionOpts{Encoding: solana.EncodingBase64}
			}
			c.logger.WarnContext(ctx, "failed to get transaction on attempt",
				"signature", signature.String(),
				"attempt", attempt+1,
				"reason", reason,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", reason)
			}
		}),
	)
}

// pause waits RequestDelay between GetTransaction calls to respect RPC rate limits.
func (c *Client) pause(ctx context.Context) error {
	if c.opts.RequestDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.opts.RequestDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

func isVersionedDecodeError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'")
}
