package wallet

import (
	"math"
	"time"
)

// Transaction types. Type is carried for display only and never changes graph shape.
const (
	TypeTransfer      = "transfer"
	TypeTokenTransfer = "token-transfer"
	TypeProgramCall   = "program-call"
	TypeFailed        = "failed"
)

// Transaction is one observed transfer or program interaction involving a wallet.
// Records are created by a fetcher and are never mutated afterwards.
type Transaction struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`

	// Display-only details; nothing in the graph engine reads them.
	Slot      uint64  `json:"slot,omitempty"`
	TokenMint *string `json:"token_mint,omitempty"` // nil for native SOL
	Memo      *string `json:"memo,omitempty"`
	Err       *string `json:"err,omitempty"` // nil if the transaction succeeded
}

// Data is the result of one lookup: the root wallet and its transactions in retrieval order.
type Data struct {
	Address      string        `json:"address"`
	Transactions []Transaction `json:"transactions"`
}

// IsSelfTransfer reports whether sender and receiver are the same address.
func (t Transaction) IsSelfTransfer() bool {
	return t.FromAddress == t.ToAddress
}

// Involves reports whether address is either side of the transaction.
func (t Transaction) Involves(address string) bool {
	return t.FromAddress == address || t.ToAddress == address
}

// IsWellFormed reports whether both addresses are present and the amount is a
// finite, non-negative number.
func (t Transaction) IsWellFormed() bool {
	if t.FromAddress == "" || t.ToAddress == "" {
		return false
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return false
	}
	return true
}

// Counterparty returns the address on the other side of root.
// ok is false for malformed records, self-transfers, and records that do not involve root;
// none of those contribute a relationship.
func (t Transaction) Counterparty(root string) (address string, ok bool) {
	if !t.IsWellFormed() || t.IsSelfTransfer() {
		return "", false
	}
	switch root {
	case t.FromAddress:
		return t.ToAddress, true
	case t.ToAddress:
		return t.FromAddress, true
	default:
		return "", false
	}
}
