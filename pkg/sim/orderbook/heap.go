package orderbook

// BidHeap implements heap.Interface for resting buys: highest price on top,
// earlier submission first at equal price.
// Use container/heap package to manipulate this heap (Init, Push, Pop)
type BidHeap []*Order

func (h BidHeap) Len() int { return len(h) }
func (h BidHeap) Less(i, j int) bool {
	if h[i].Price != h[j].Price {
		return h[i].Price > h[j].Price
	}
	return earlier(h[i], h[j])
}
func (h BidHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *BidHeap) Push(x interface{}) {
	*h = append(*h, x.(*Order))
}

func (h *BidHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// Peek returns the top entry without removing it, which may be stale
func (h BidHeap) Peek() *Order {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// AskHeap implements heap.Interface for resting sells: lowest price on top,
// earlier submission first at equal price.
type AskHeap []*Order

func (h AskHeap) Len() int { return len(h) }
func (h AskHeap) Less(i, j int) bool {
	if h[i].Price != h[j].Price {
		return h[i].Price < h[j].Price
	}
	return earlier(h[i], h[j])
}
func (h AskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *AskHeap) Push(x interface{}) {
	*h = append(*h, x.(*Order))
}

func (h *AskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// Peek returns the top entry without removing it, which may be stale
func (h AskHeap) Peek() *Order {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func earlier(a, b *Order) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.seq < b.seq
}
