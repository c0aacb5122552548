package feeder

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinancePriceSource fetches spot prices from the Binance public API without
// requiring authentication.
type BinancePriceSource struct {
	client *binance.Client
}

// NewBinancePriceSource creates a Binance-backed price source.
func NewBinancePriceSource(client *binance.Client) *BinancePriceSource {
	return &BinancePriceSource{client: client}
}

// GetPrice fetches the current market price for the symbol.
func (s *BinancePriceSource) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, fmt.Errorf("binance API returned empty prices for %s", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}
