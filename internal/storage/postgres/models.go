package postgres

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradewarden/warden/internal/domain"
)

// singletonID is the fixed primary key of the portfolio and governance rows.
const singletonID = 1

type marketSampleRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"index:idx_market_samples_symbol_ts,priority:1;not null"`
	Price     decimal.Decimal `gorm:"type:numeric;not null"`
	Timestamp time.Time       `gorm:"index:idx_market_samples_symbol_ts,priority:2;not null"`
}

func (marketSampleRow) TableName() string { return "market_samples" }

func (r *marketSampleRow) toDomain() domain.MarketSample {
	return domain.MarketSample{Symbol: r.Symbol, Price: r.Price, Timestamp: r.Timestamp}
}

type tradeRecordRow struct {
	ID        string          `gorm:"primaryKey"`
	SignalSeq uint64          `gorm:"column:signal_seq;uniqueIndex;not null"`
	Symbol    string          `gorm:"not null"`
	Direction string          `gorm:"not null"`
	Quantity  decimal.Decimal `gorm:"type:numeric;not null"`
	Price     decimal.Decimal `gorm:"type:numeric;not null"`
	Timestamp time.Time       `gorm:"index;not null"`
	Balance   decimal.Decimal `gorm:"type:numeric;not null"`
}

func (tradeRecordRow) TableName() string { return "trade_records" }

func newTradeRecordRow(t domain.TradeRecord) tradeRecordRow {
	return tradeRecordRow{
		ID:        t.ID,
		SignalSeq: t.SignalSeq,
		Symbol:    t.Symbol,
		Direction: string(t.Direction),
		Quantity:  t.Quantity,
		Price:     t.Price,
		Timestamp: t.Timestamp,
		Balance:   t.Balance,
	}
}

func (r *tradeRecordRow) toDomain() domain.TradeRecord {
	return domain.TradeRecord{
		ID:        r.ID,
		SignalSeq: r.SignalSeq,
		Symbol:    r.Symbol,
		Direction: domain.Direction(r.Direction),
		Quantity:  r.Quantity,
		Price:     r.Price,
		Timestamp: r.Timestamp,
		Balance:   r.Balance,
	}
}

type portfolioRow struct {
	ID        int             `gorm:"primaryKey"`
	Cash      decimal.Decimal `gorm:"type:numeric;not null"`
	Positions []byte          `gorm:"type:jsonb;not null"`
	Version   uint64          `gorm:"not null"`
}

func (portfolioRow) TableName() string { return "portfolio_state" }

func newPortfolioRow(p domain.PortfolioState, version uint64) (portfolioRow, error) {
	positions := p.Positions
	if positions == nil {
		positions = map[string]decimal.Decimal{}
	}
	payload, err := json.Marshal(positions)
	if err != nil {
		return portfolioRow{}, errors.Wrap(err, "encode positions")
	}
	return portfolioRow{ID: singletonID, Cash: p.Cash, Positions: payload, Version: version}, nil
}

func (r *portfolioRow) toDomain() (*domain.PortfolioState, error) {
	positions := make(map[string]decimal.Decimal)
	if len(r.Positions) != 0 {
		if err := json.Unmarshal(r.Positions, &positions); err != nil {
			return nil, errors.Wrap(err, "decode positions")
		}
	}
	return &domain.PortfolioState{Cash: r.Cash, Positions: positions, Version: r.Version}, nil
}

type governanceRow struct {
	ID        int       `gorm:"primaryKey"`
	State     string    `gorm:"not null"`
	Reason    string
	Version   uint64    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (governanceRow) TableName() string { return "governance_status" }

func (r *governanceRow) toDomain() domain.GovernanceStatus {
	return domain.GovernanceStatus{
		State:     domain.GovernanceState(r.State),
		Reason:    r.Reason,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}
