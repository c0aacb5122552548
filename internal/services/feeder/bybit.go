package feeder

import (
	"context"
	"fmt"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
)

// BybitPriceSource fetches spot prices from the Bybit V5 market API.
type BybitPriceSource struct {
	client *bybit.Client
}

// NewBybitPriceSource creates a Bybit-backed price source.
func NewBybitPriceSource(client *bybit.Client) *BybitPriceSource {
	return &BybitPriceSource{client: client}
}

// GetPrice fetches the last traded price for the symbol.
func (s *BybitPriceSource) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	sym := bybit.SymbolV5(symbol)

	result, err := s.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &sym,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, fmt.Errorf("bybit API returned empty prices for %s", symbol)
	}
	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}
