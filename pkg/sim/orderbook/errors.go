package orderbook

import "errors"

// ErrInvalidOrder is the sentinel wrapped by every InvalidOrderError.
var ErrInvalidOrder = errors.New("invalid order")

// InvalidOrderError describes why an order was refused before touching the book.
type InvalidOrderError struct {
	OrderID string
	Reason  string
}

func (e *InvalidOrderError) Error() string {
	if e.OrderID == "" {
		return "invalid order: " + e.Reason
	}
	return "invalid order " + e.OrderID + ": " + e.Reason
}

func (e *InvalidOrderError) Unwrap() error { return ErrInvalidOrder }
