package domain

import "github.com/shopspring/decimal"

// PortfolioState is the single current snapshot of cash and open positions.
// Version is bumped on every committed trade and is the check-and-set token
// protecting the snapshot against lost updates.
type PortfolioState struct {
	Cash      decimal.Decimal
	Positions map[string]decimal.Decimal
	Version   uint64
}

// Position returns the held quantity for a symbol, zero when flat.
func (p *PortfolioState) Position(symbol string) decimal.Decimal {
	if p.Positions == nil {
		return decimal.Zero
	}
	return p.Positions[symbol]
}

// Equity marks the portfolio to market using the provided last-known prices.
// Symbols without a known price contribute nothing.
func (p *PortfolioState) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	equity := p.Cash
	for symbol, qty := range p.Positions {
		if price, ok := prices[symbol]; ok {
			equity = equity.Add(qty.Mul(price))
		}
	}
	return equity
}

// WithFill returns the snapshot resulting from applying a paper fill,
// keeping the same version (the store bumps it on commit).
func (p *PortfolioState) WithFill(trade TradeRecord) PortfolioState {
	next := PortfolioState{
		Cash:      p.Cash,
		Positions: make(map[string]decimal.Decimal, len(p.Positions)+1),
		Version:   p.Version,
	}
	for symbol, qty := range p.Positions {
		next.Positions[symbol] = qty
	}

	cost := trade.Quantity.Mul(trade.Price)
	switch trade.Direction {
	case DirectionBuy:
		next.Cash = next.Cash.Sub(cost)
		next.Positions[trade.Symbol] = next.Position(trade.Symbol).Add(trade.Quantity)
	case DirectionSell:
		next.Cash = next.Cash.Add(cost)
		remaining := next.Position(trade.Symbol).Sub(trade.Quantity)
		if remaining.IsZero() {
			delete(next.Positions, trade.Symbol)
		} else {
			next.Positions[trade.Symbol] = remaining
		}
	}
	return next
}

// DrawdownPercent returns the percentage loss of equity relative to the
// reference balance. Negative values mean the portfolio is in profit.
func DrawdownPercent(equity, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return reference.Sub(equity).Div(reference).Mul(decimal.NewFromInt(100))
}
