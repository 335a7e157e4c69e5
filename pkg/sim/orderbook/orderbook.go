package orderbook

import (
	"container/heap"
	"math"
	"sort"
	"sync"

	"github.com/uhyunpark/darwinex/pkg/util"
)

const (
	DefaultImpactCoefficient = 0.001
	DefaultLiquidity         = 1000.0

	fillEpsilon = 1e-12
	minPrice    = 1e-8
)

type Config struct {
	ImpactCoefficient float64 // market-order impact coefficient
	DefaultLiquidity  float64 // substituted when the book is empty
	IDs               util.IDGenerator
	Clock             util.Clock
}

// OrderBook keeps resting limit orders in two priority queues.
//
// Cancelled orders are removed from the id lookup only; their heap entries
// stay until they surface at the top, where every peek/pop re-checks status
// and discards them (lazy deletion).
type OrderBook struct {
	mu sync.RWMutex

	bids *BidHeap
	asks *AskHeap

	// Order index for O(1) cancellation
	orders map[string]*Order

	trades    []Trade
	volume    float64
	lastPrice float64
	seq       uint64

	coefficient float64
	floor       float64
	ids         util.IDGenerator
	clock       util.Clock
}

func NewOrderBook(cfg Config) *OrderBook {
	if cfg.ImpactCoefficient <= 0 {
		cfg.ImpactCoefficient = DefaultImpactCoefficient
	}
	if cfg.DefaultLiquidity <= 0 {
		cfg.DefaultLiquidity = DefaultLiquidity
	}
	if cfg.IDs == nil {
		cfg.IDs = util.NewSequentialIDs()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	bids := &BidHeap{}
	asks := &AskHeap{}
	heap.Init(bids)
	heap.Init(asks)

	return &OrderBook{
		bids:        bids,
		asks:        asks,
		orders:      make(map[string]*Order),
		coefficient: cfg.ImpactCoefficient,
		floor:       cfg.DefaultLiquidity,
		ids:         cfg.IDs,
		clock:       cfg.Clock,
	}
}

// AddOrder validates o and rests it if it is a limit order. Market orders are
// accepted but never stored.
func (ob *OrderBook) AddOrder(o *Order) error {
	if err := o.Validate(); err != nil {
		return err
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.stamp(o)
	if o.Kind != Limit || !o.IsActive() {
		return nil
	}

	if o.Side == Buy {
		heap.Push(ob.bids, o)
	} else {
		heap.Push(ob.asks, o)
	}
	ob.orders[o.ID] = o
	return nil
}

// CancelOrder marks a resting order cancelled and drops it from the lookup.
// Unknown ids are ignored.
func (ob *OrderBook) CancelOrder(id string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		return false
	}
	o.Status = StatusCancelled
	delete(ob.orders, id)
	return true
}

// MatchMarketOrder fills o completely against aggregate liquidity.
// impact = coefficient * sign(flow) * sqrt(amount / liquidity), and the fill
// executes at currentPrice + impact.
func (ob *OrderBook) MatchMarketOrder(o *Order, currentPrice float64) (Trade, float64, error) {
	if err := o.Validate(); err != nil {
		return Trade{}, 0, err
	}
	if o.Kind != Market {
		return Trade{}, 0, &InvalidOrderError{OrderID: o.ID, Reason: "not a market order"}
	}
	if !(currentPrice > 0) {
		return Trade{}, 0, &InvalidOrderError{OrderID: o.ID, Reason: "reference price must be positive"}
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.stamp(o)
	if !o.IsActive() {
		return Trade{}, 0, &InvalidOrderError{OrderID: o.ID, Reason: "order is not open"}
	}

	liquidity := ob.liquidityLocked()
	if liquidity <= 0 {
		liquidity = ob.floor
	}

	amount := o.Remaining()
	impact := ob.coefficient * o.Side.Sign() * math.Sqrt(amount/liquidity)
	price := math.Max(currentPrice+impact, minPrice)

	o.fill(amount)

	t := Trade{
		ID:        ob.ids.Next("trade"),
		Price:     price,
		Amount:    amount,
		Timestamp: ob.clock.Now(),
	}
	if o.Side == Buy {
		t.BuyOrderID, t.BuyerAgentID = o.ID, o.AgentID
		t.SellerAgentID = MarketCounterparty
	} else {
		t.SellOrderID, t.SellerAgentID = o.ID, o.AgentID
		t.BuyerAgentID = MarketCounterparty
	}
	ob.record(t)

	return t, impact, nil
}

// MatchLimitOrder performs at most one pairing between o and the best
// opposing resting order. It returns nil when prices do not cross or the
// opposite side is empty. Callers loop until nil or o is filled.
func (ob *OrderBook) MatchLimitOrder(o *Order) (*Trade, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Kind != Limit {
		return nil, &InvalidOrderError{OrderID: o.ID, Reason: "not a limit order"}
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.stamp(o)
	if !o.IsActive() {
		return nil, nil
	}

	var resting *Order
	if o.Side == Buy {
		best := ob.topAsk()
		if best == nil || o.Price < best.Price {
			return nil, nil
		}
		resting = heap.Pop(ob.asks).(*Order)
	} else {
		best := ob.topBid()
		if best == nil || o.Price > best.Price {
			return nil, nil
		}
		resting = heap.Pop(ob.bids).(*Order)
	}

	amount := math.Min(o.Remaining(), resting.Remaining())
	price := resting.Price

	o.fill(amount)
	resting.fill(amount)

	if resting.IsActive() {
		if resting.Side == Buy {
			heap.Push(ob.bids, resting)
		} else {
			heap.Push(ob.asks, resting)
		}
	} else {
		delete(ob.orders, resting.ID)
	}
	if !o.IsActive() {
		delete(ob.orders, o.ID)
	}

	buy, sell := o, resting
	if o.Side == Sell {
		buy, sell = resting, o
	}
	t := Trade{
		ID:            ob.ids.Next("trade"),
		BuyOrderID:    buy.ID,
		SellOrderID:   sell.ID,
		BuyerAgentID:  buy.AgentID,
		SellerAgentID: sell.AgentID,
		Price:         price,
		Amount:        amount,
		Timestamp:     ob.clock.Now(),
	}
	ob.record(t)
	return &t, nil
}

// Liquidity returns the total unfilled amount resting on both sides.
func (ob *OrderBook) Liquidity() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.liquidityLocked()
}

// BestBid returns the highest active bid price
func (ob *OrderBook) BestBid() (float64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if top := ob.topBid(); top != nil {
		return top.Price, true
	}
	return 0, false
}

// BestAsk returns the lowest active ask price
func (ob *OrderBook) BestAsk() (float64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if top := ob.topAsk(); top != nil {
		return top.Price, true
	}
	return 0, false
}

// Spread returns best ask minus best bid; false if either side is empty.
func (ob *OrderBook) Spread() (float64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	bid, ask := ob.topBid(), ob.topAsk()
	if bid == nil || ask == nil {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(id string) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Trades returns a copy of the trade ledger
func (ob *OrderBook) Trades() []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]Trade, len(ob.trades))
	copy(out, ob.trades)
	return out
}

// RecentTrades returns up to n most recent trades, oldest first.
func (ob *OrderBook) RecentTrades(n int) []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if n <= 0 || n > len(ob.trades) {
		n = len(ob.trades)
	}
	out := make([]Trade, n)
	copy(out, ob.trades[len(ob.trades)-n:])
	return out
}

func (ob *OrderBook) Statistics() Statistics {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var st Statistics
	for _, o := range *ob.bids {
		if o.IsActive() {
			st.ActiveBids++
			st.BidVolume += o.Remaining()
		} else {
			st.StaleEntries++
		}
	}
	for _, o := range *ob.asks {
		if o.IsActive() {
			st.ActiveAsks++
			st.AskVolume += o.Remaining()
		} else {
			st.StaleEntries++
		}
	}
	st.Liquidity = st.BidVolume + st.AskVolume

	bid, ask := ob.topBid(), ob.topAsk()
	if bid != nil {
		st.BestBid = bid.Price
	}
	if ask != nil {
		st.BestAsk = ask.Price
	}
	if bid != nil && ask != nil {
		st.Spread = ask.Price - bid.Price
	}
	st.TotalTrades = len(ob.trades)
	st.TotalVolume = ob.volume
	st.LastPrice = ob.lastPrice
	return st
}

// BidLevels returns active bid levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := aggregate(*ob.bids)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// AskLevels returns active ask levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := aggregate(*ob.asks)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// Reset empties both sides and the trade ledger.
func (ob *OrderBook) Reset() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	*ob.bids = (*ob.bids)[:0]
	*ob.asks = (*ob.asks)[:0]
	ob.orders = make(map[string]*Order)
	ob.trades = nil
	ob.volume = 0
	ob.lastPrice = 0
}

// topBid discards stale entries until an active bid is on top.
func (ob *OrderBook) topBid() *Order {
	for ob.bids.Len() > 0 {
		top := ob.bids.Peek()
		if top.IsActive() {
			return top
		}
		heap.Pop(ob.bids)
	}
	return nil
}

// topAsk discards stale entries until an active ask is on top.
func (ob *OrderBook) topAsk() *Order {
	for ob.asks.Len() > 0 {
		top := ob.asks.Peek()
		if top.IsActive() {
			return top
		}
		heap.Pop(ob.asks)
	}
	return nil
}

func (ob *OrderBook) liquidityLocked() float64 {
	var total float64
	for _, o := range *ob.bids {
		if o.IsActive() {
			total += o.Remaining()
		}
	}
	for _, o := range *ob.asks {
		if o.IsActive() {
			total += o.Remaining()
		}
	}
	return total
}

func (ob *OrderBook) stamp(o *Order) {
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.ID == "" {
		o.ID = ob.ids.Next("order")
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = ob.clock.Now()
	}
	if o.seq == 0 {
		ob.seq++
		o.seq = ob.seq
	}
}

func (ob *OrderBook) record(t Trade) {
	ob.trades = append(ob.trades, t)
	ob.volume += t.Amount
	ob.lastPrice = t.Price
}

func aggregate[H ~[]*Order](entries H) []PriceLevel {
	byPrice := make(map[float64]*PriceLevel)
	for _, o := range entries {
		if !o.IsActive() {
			continue
		}
		lvl, ok := byPrice[o.Price]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[o.Price] = lvl
		}
		lvl.Amount += o.Remaining()
		lvl.Orders++
	}
	levels := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}
	return levels
}
