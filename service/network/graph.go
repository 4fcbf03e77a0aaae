package network

import (
	"math"

	"github.com/brojonat/solvision/service/wallet"
)

// Node is one participant address in the graph.
type Node struct {
	ID               string  `json:"id"`
	IsRoot           bool    `json:"is_root"`
	TransactionCount int     `json:"transaction_count"`
	TotalVolume      float64 `json:"total_volume"`
}

// Edge is the single aggregated relationship between the root and one counterparty.
// Source and Target follow the net flow of value; ties point away from the root.
type Edge struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	Weight           float64 `json:"weight"`
	TransactionCount int     `json:"transaction_count"`
	TotalVolume      float64 `json:"total_volume"`
	OutgoingVolume   float64 `json:"outgoing_volume"`
	IncomingVolume   float64 `json:"incoming_volume"`
}

// Graph is a star centered on Root. Nodes[0] is always the root node; counterparties follow
// in the order they first appear in the transaction list, and Edges share that order.
type Graph struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	index map[string]int
}

// Weight is the visual emphasis of a relationship. It is strictly increasing in the
// transaction count and non-decreasing in volume, so a busier relationship is never drawn
// thinner than a quieter one.
func Weight(count int, volume float64) float64 {
	return float64(count) + math.Log1p(volume)
}

// BuildNetwork turns a root wallet and its transactions into a star graph.
//
// Self-transfers, malformed records and records that do not involve the root are skipped.
// The result depends only on the inputs: calling it twice with the same arguments yields equal
// graphs. It never fails; an empty list produces a graph with only the root node.
func BuildNetwork(root string, txns []wallet.Transaction) *Graph {
	accs := newOrderedAccumulators()
	rootNode := Node{ID: root, IsRoot: true}

	for _, txn := range txns {
		counterparty, ok := txn.Counterparty(root)
		if !ok {
			continue
		}

		acc := accs.get(counterparty)
		acc.count++
		acc.volume += txn.Amount
		if txn.FromAddress == root {
			acc.outgoingVolume += txn.Amount
		} else {
			acc.incomingVolume += txn.Amount
		}

		rootNode.TransactionCount++
		rootNode.TotalVolume += txn.Amount
	}

	g := &Graph{
		Root:  root,
		Nodes: make([]Node, 0, accs.len()+1),
		Edges: make([]Edge, 0, accs.len()),
		index: make(map[string]int, accs.len()+1),
	}
	g.addNode(rootNode)

	for _, acc := range accs.items {
		g.addNode(Node{
			ID:               acc.address,
			TransactionCount: acc.count,
			TotalVolume:      acc.volume,
		})

		edge := Edge{
			Source:           root,
			Target:           acc.address,
			Weight:           Weight(acc.count, acc.volume),
			TransactionCount: acc.count,
			TotalVolume:      acc.volume,
			OutgoingVolume:   acc.outgoingVolume,
			IncomingVolume:   acc.incomingVolume,
		}
		if acc.outgoingVolume < acc.incomingVolume {
			edge.Source, edge.Target = acc.address, root
		}
		g.Edges = append(g.Edges, edge)
	}

	return g
}

func (g *Graph) addNode(n Node) {
	g.index[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
}

// RootNode returns the node for the searched wallet.
func (g *Graph) RootNode() Node {
	return g.Nodes[0]
}

// Node looks up a node by address.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.position(id)
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Edge returns the edge connecting the root and the given counterparty.
func (g *Graph) Edge(counterparty string) (Edge, bool) {
	i, ok := g.position(counterparty)
	if !ok || i == 0 {
		return Edge{}, false
	}
	// Edges are emitted in the same order as the non-root nodes.
	return g.Edges[i-1], true
}

// position finds a node's index. Graphs decoded from JSON have no index and fall back to a scan.
func (g *Graph) position(id string) (int, bool) {
	if g.index != nil {
		i, ok := g.index[id]
		return i, ok
	}
	for i, n := range g.Nodes {
		if n.ID == id {
			return i, true
		}
	}
	return 0, false
}
