package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSample is a single observed market price point.
// Samples are append-only and written only by the market feeder.
type MarketSample struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}
