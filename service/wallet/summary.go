package wallet

import "time"

// Summary is the headline view of a lookup: how much moved in each direction and with how many
// distinct wallets.
type Summary struct {
	Address          string     `json:"address"`
	TransactionCount int        `json:"transaction_count"`
	SentVolume       float64    `json:"sent_volume"`
	ReceivedVolume   float64    `json:"received_volume"`
	Counterparties   int        `json:"counterparties"`
	FirstSeen        *time.Time `json:"first_seen,omitempty"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
}

// Summarize computes a Summary over all records, including ones the graph engine excludes.
// Volumes only count well-formed records; self-transfers count as neither sent nor received.
func Summarize(data *Data) Summary {
	if data == nil {
		return Summary{}
	}

	s := Summary{
		Address:          data.Address,
		TransactionCount: len(data.Transactions),
	}

	seen := make(map[string]struct{})
	for _, txn := range data.Transactions {
		if !txn.Timestamp.IsZero() {
			ts := txn.Timestamp
			if s.FirstSeen == nil || ts.Before(*s.FirstSeen) {
				s.FirstSeen = &ts
			}
			if s.LastSeen == nil || ts.After(*s.LastSeen) {
				last := ts
				s.LastSeen = &last
			}
		}

		counterparty, ok := txn.Counterparty(data.Address)
		if !ok {
			continue
		}
		seen[counterparty] = struct{}{}

		if txn.FromAddress == data.Address {
			s.SentVolume += txn.Amount
		} else {
			s.ReceivedVolume += txn.Amount
		}
	}
	s.Counterparties = len(seen)

	return s
}
