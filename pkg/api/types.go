package api

import (
	"github.com/uhyunpark/darwinex/pkg/sim/orderbook"
)

// Websocket channels. Subscribers receive WSMessage envelopes.
const (
	ChannelTrades      = "trades"
	ChannelMatches     = "matches"
	ChannelPressure    = "pressure"
	ChannelGenerations = "generations"
)

// channelFor maps a record kind emitted by the simulation onto a channel.
func channelFor(kind string) (string, bool) {
	switch kind {
	case "trades":
		return ChannelTrades, true
	case "match":
		return ChannelMatches, true
	case "pressure":
		return ChannelPressure, true
	case "generation":
		return ChannelGenerations, true
	}
	return "", false
}

// OrderbookSnapshot is the aggregated book, bids high to low and asks low
// to high.
type OrderbookSnapshot struct {
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	BestBid   *float64               `json:"best_bid,omitempty"`
	BestAsk   *float64               `json:"best_ask,omitempty"`
	Spread    *float64               `json:"spread,omitempty"`
	Liquidity float64                `json:"liquidity"`
	Timestamp int64                  `json:"timestamp"` // unix millis
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["trades"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}
