// Package feeder ingests market data: it polls a price source and appends
// samples to the shared state store. It is the only writer of market samples.
package feeder

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradewarden/warden/internal/domain"
)

// PriceSource provides the current market price for a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type appender interface {
	AppendMarketSample(ctx context.Context, sample domain.MarketSample) error
}

// Feeder polls one symbol from one source.
type Feeder struct {
	symbol string
	source PriceSource
	store  appender
	logger *zap.Logger
}

// New creates a feeder.
func New(logger *zap.Logger, symbol string, source PriceSource, store appender) *Feeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feeder{symbol: symbol, source: source, store: store, logger: logger}
}

// Tick fetches one price and appends it.
func (f *Feeder) Tick(ctx context.Context) error {
	price, err := f.source.GetPrice(ctx, f.symbol)
	if err != nil {
		return errors.Wrap(err, "fetch market price")
	}

	sample := domain.MarketSample{
		Symbol:    f.symbol,
		Price:     price,
		Timestamp: time.Now(),
	}
	if err := f.store.AppendMarketSample(ctx, sample); err != nil {
		return errors.Wrap(err, "store market sample")
	}

	f.logger.Debug("market sample stored",
		zap.String("symbol", f.symbol),
		zap.String("price", price.StringFixed(2)))
	return nil
}
