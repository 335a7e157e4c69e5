package orderbook

import "time"

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys and -1 for sells, used to sign order flow.
func (s Side) Sign() float64 { return float64(s) }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side { return -s }

type Kind uint8

const (
	Market Kind = iota + 1
	Limit
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "market"
	case Limit:
		return "limit"
	default:
		return "unknown"
	}
}

type Status string

const (
	StatusPending          Status = "pending"
	StatusPartial          Status = "partial"
	StatusFilled           Status = "filled"
	StatusCancelled        Status = "cancelled"
	StatusRejectedCapital  Status = "rejected_capital"
	StatusRejectedRisk     Status = "rejected_risk"
	StatusRejectedExchange Status = "rejected_exchange"
)

// MarketCounterparty is the agent id recorded on the passive side of a
// market-order fill, which executes against aggregate liquidity rather than
// a resting order.
const MarketCounterparty = "market"

// Order is mutated only by the book's matching routines once submitted.
type Order struct {
	ID           string
	AgentID      string
	Kind         Kind
	Side         Side
	Amount       float64
	Price        float64 // limit price; ignored for market orders
	Timestamp    time.Time
	Status       Status
	FilledAmount float64

	seq uint64 // insertion sequence, breaks timestamp ties
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() float64 {
	r := o.Amount - o.FilledAmount
	if r < 0 {
		return 0
	}
	return r
}

// IsActive reports whether the order can still trade.
func (o *Order) IsActive() bool {
	return (o.Status == StatusPending || o.Status == StatusPartial) && o.Remaining() > 0
}

// fill books amt against the order and updates its status.
func (o *Order) fill(amt float64) {
	o.FilledAmount += amt
	if o.FilledAmount >= o.Amount-fillEpsilon {
		o.FilledAmount = o.Amount
		o.Status = StatusFilled
		return
	}
	o.Status = StatusPartial
}

// Validate checks the structural rules every submitted order must satisfy.
func (o *Order) Validate() error {
	switch {
	case o == nil:
		return &InvalidOrderError{Reason: "nil order"}
	case o.Side != Buy && o.Side != Sell:
		return &InvalidOrderError{OrderID: o.ID, Reason: "unknown side"}
	case o.Kind != Market && o.Kind != Limit:
		return &InvalidOrderError{OrderID: o.ID, Reason: "unknown kind"}
	case !(o.Amount > 0):
		return &InvalidOrderError{OrderID: o.ID, Reason: "amount must be positive"}
	case o.Kind == Limit && !(o.Price > 0):
		return &InvalidOrderError{OrderID: o.ID, Reason: "limit price must be positive"}
	case o.FilledAmount < 0 || o.FilledAmount > o.Amount:
		return &InvalidOrderError{OrderID: o.ID, Reason: "filled amount out of range"}
	}
	return nil
}

// Trade is an immutable ledger entry.
type Trade struct {
	ID            string    `json:"id"`
	BuyOrderID    string    `json:"buy_order_id"`
	SellOrderID   string    `json:"sell_order_id"`
	BuyerAgentID  string    `json:"buyer_agent_id"`
	SellerAgentID string    `json:"seller_agent_id"`
	Price         float64   `json:"price"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"` // total unfilled amount at this price
	Orders int     `json:"orders"`
}

// Statistics is a point-in-time summary of the book.
type Statistics struct {
	ActiveBids   int     `json:"active_bids"`
	ActiveAsks   int     `json:"active_asks"`
	StaleEntries int     `json:"stale_entries"` // heap entries awaiting lazy deletion
	BidVolume    float64 `json:"bid_volume"`
	AskVolume    float64 `json:"ask_volume"`
	Liquidity    float64 `json:"liquidity"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	Spread       float64 `json:"spread"`
	TotalTrades  int     `json:"total_trades"`
	TotalVolume  float64 `json:"total_volume"`
	LastPrice    float64 `json:"last_price"`
}
