package solana

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Legacy memo program (v1). The SPL memo program is solana.MemoProgramID.
var MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

var ErrInvalidAddress = errors.New("invalid wallet address")

// FetchOptions controls how much history is fetched and how hard the RPC node is pushed.
type FetchOptions struct {
	// Limit is the number of signatures requested for the wallet (most recent first).
	Limit int
	// RequestDelay is the pause between GetTransaction calls.
	// Public mainnet tolerates 1-2 RPS; premium providers can go down to ~100ms.
	RequestDelay time.Duration
	// MaxAttempts bounds GetTransaction attempts per signature, including the first.
	MaxAttempts uint
	// RetryDelay is the base delay for exponential backoff between attempts.
	RetryDelay time.Duration
}

// DefaultFetchOptions returns options suited to the public mainnet endpoint.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Limit:        50,
		RequestDelay: 600 * time.Millisecond,
		MaxAttempts:  3,
		RetryDelay:   time.Second,
	}
}

// ParseAddress validates a base58 wallet address.
func ParseAddress(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	return pk, nil
}
