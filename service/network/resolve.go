package network

import (
	"iter"

	"github.com/brojonat/solvision/service/wallet"
)

// ResolveTransactionsForNode returns the transactions behind a node.
//
// For the root node this is every transaction, unchanged and in order. For a counterparty it
// is exactly the records BuildNetwork counted towards that node, in their original order, so
// the number of yielded records always equals node.TransactionCount.
//
// The sequence is lazy and may be ranged over any number of times.
func ResolveTransactionsForNode(root string, node Node, txns []wallet.Transaction) iter.Seq[wallet.Transaction] {
	if node.IsRoot {
		return func(yield func(wallet.Transaction) bool) {
			for _, txn := range txns {
				if !yield(txn) {
					return
				}
			}
		}
	}

	return func(yield func(wallet.Transaction) bool) {
		for _, txn := range txns {
			counterparty, ok := txn.Counterparty(root)
			if !ok || counterparty != node.ID {
				continue
			}
			if !yield(txn) {
				return
			}
		}
	}
}

// ResolveTransactions is ResolveTransactionsForNode for this graph's root.
func (g *Graph) ResolveTransactions(node Node, txns []wallet.Transaction) iter.Seq[wallet.Transaction] {
	return ResolveTransactionsForNode(g.Root, node, txns)
}
