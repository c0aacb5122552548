package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is a committed paper fill. Records are append-only, written only
// by the execution coordinator, and SignalSeq is unique across all records so
// replaying a signal can never produce a second trade.
type TradeRecord struct {
	ID        string
	SignalSeq uint64
	Symbol    string
	Direction Direction
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
	// Balance is the cash balance resulting from this fill.
	Balance decimal.Decimal
}

// String returns a human-readable representation.
func (t *TradeRecord) String() string {
	return fmt.Sprintf("%s %s %s @ %s (seq %d)", t.Direction, t.Quantity.String(), t.Symbol, t.Price.String(), t.SignalSeq)
}
