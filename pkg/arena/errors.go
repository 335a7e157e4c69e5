package arena

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalBracket = errors.New("illegal bracket")
	ErrSelfMatch      = errors.New("agent cannot face itself")
	ErrInvalidGroup   = errors.New("invalid group battle")
)

// IllegalBracketError reports a tournament round that cannot be paired
// under the configured bye policy.
type IllegalBracketError struct {
	Round    int
	Entrants int
	Reason   string
}

func (e *IllegalBracketError) Error() string {
	return fmt.Sprintf("illegal bracket: round %d with %d entrants: %s", e.Round, e.Entrants, e.Reason)
}

func (e *IllegalBracketError) Unwrap() error { return ErrIllegalBracket }
