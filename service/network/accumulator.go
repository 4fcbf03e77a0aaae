package network

// accumulator tallies one counterparty's relationship with the root.
type accumulator struct {
	address        string
	count          int
	volume         float64
	outgoingVolume float64 // root was the sender
	incomingVolume float64 // root was the receiver
}

// orderedAccumulators keeps one accumulator per address in first-seen order.
// Iteration order is insertion order, which keeps node ordering stable for layout.
type orderedAccumulators struct {
	index map[string]int
	items []*accumulator
}

func newOrderedAccumulators() *orderedAccumulators {
	return &orderedAccumulators{index: make(map[string]int)}
}

// get returns the accumulator for address, creating it at the end of the order if absent.
func (o *orderedAccumulators) get(address string) *accumulator {
	if i, ok := o.index[address]; ok {
		return o.items[i]
	}
	acc := &accumulator{address: address}
	o.index[address] = len(o.items)
	o.items = append(o.items, acc)
	return acc
}

func (o *orderedAccumulators) len() int {
	return len(o.items)
}
