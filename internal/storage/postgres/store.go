package postgres

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradewarden/warden/internal/domain"
)

// Store exposes the transactional contracts of the shared state store.
// Single-writer-per-entity convention: the feeder writes market samples, the
// execution coordinator writes trades and portfolio state, the risk governor
// (or a manual override) writes governance status.
type Store struct {
	client *Client
	logger *zap.Logger
}

// NewStore wraps a connected client.
func NewStore(client *Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// InitState migrates the schema and seeds the singleton rows when absent.
func (s *Store) InitState(ctx context.Context, initialBalance decimal.Decimal) error {
	db := s.client.DB().WithContext(ctx)

	if err := db.AutoMigrate(&marketSampleRow{}, &tradeRecordRow{}, &portfolioRow{}, &governanceRow{}); err != nil {
		return errors.Wrap(err, "migrate schema")
	}

	portfolio, err := newPortfolioRow(domain.PortfolioState{Cash: initialBalance}, 1)
	if err != nil {
		return err
	}
	if err := db.Where("id = ?", singletonID).FirstOrCreate(&portfolio).Error; err != nil {
		return errors.Wrap(err, "seed portfolio state")
	}

	status := governanceRow{
		ID:        singletonID,
		State:     string(domain.GovernanceActive),
		Reason:    "session start",
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	if err := db.Where("id = ?", singletonID).FirstOrCreate(&status).Error; err != nil {
		return errors.Wrap(err, "seed governance status")
	}

	return nil
}

// AppendMarketSample appends one observed price point.
func (s *Store) AppendMarketSample(ctx context.Context, sample domain.MarketSample) error {
	row := marketSampleRow{Symbol: sample.Symbol, Price: sample.Price, Timestamp: sample.Timestamp}
	if err := s.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "append market sample")
	}
	return nil
}

// LatestSample returns the most recent sample for a symbol.
func (s *Store) LatestSample(ctx context.Context, symbol string) (*domain.MarketSample, error) {
	var row marketSampleRow
	err := s.client.DB().WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoData
	}
	if err != nil {
		return nil, errors.Wrap(err, "load latest sample")
	}
	sample := row.toDomain()
	return &sample, nil
}

// RecentSamples returns up to limit samples for a symbol in ascending time order.
func (s *Store) RecentSamples(ctx context.Context, symbol string, limit int) ([]domain.MarketSample, error) {
	var rows []marketSampleRow
	err := s.client.DB().WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load recent samples")
	}

	samples := make([]domain.MarketSample, len(rows))
	for i, row := range rows {
		samples[len(rows)-1-i] = row.toDomain()
	}
	return samples, nil
}

// RecordTrade appends the trade and updates the portfolio snapshot in one
// transaction; both commit together or neither does. The unique signal_seq
// index rejects a replayed signal with domain.ErrDuplicateSignal; a stale
// portfolio version yields domain.ErrConcurrencyConflict.
func (s *Store) RecordTrade(ctx context.Context, trade domain.TradeRecord, newPortfolio domain.PortfolioState) error {
	if newPortfolio.Cash.IsNegative() {
		return errors.Wrap(domain.ErrInsufficientFunds, "refusing to commit negative cash balance")
	}
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := newTradeRecordRow(trade)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateSignal
			}
			return errors.Wrap(err, "append trade record")
		}

		portfolio, err := newPortfolioRow(newPortfolio, newPortfolio.Version+1)
		if err != nil {
			return err
		}
		res := tx.Model(&portfolioRow{}).
			Where("id = ? AND version = ?", singletonID, newPortfolio.Version).
			Updates(map[string]any{
				"cash":      portfolio.Cash,
				"positions": portfolio.Positions,
				"version":   portfolio.Version,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update portfolio state")
		}
		if res.RowsAffected == 0 {
			return domain.ErrConcurrencyConflict
		}
		return nil
	})
}

// LatestPortfolio returns the current portfolio snapshot.
func (s *Store) LatestPortfolio(ctx context.Context) (*domain.PortfolioState, error) {
	var row portfolioRow
	err := s.client.DB().WithContext(ctx).Where("id = ?", singletonID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoData
	}
	if err != nil {
		return nil, errors.Wrap(err, "load portfolio state")
	}
	return row.toDomain()
}

// RecentTrades returns trades within the trailing window in ascending time order.
func (s *Store) RecentTrades(ctx context.Context, window time.Duration) ([]domain.TradeRecord, error) {
	var rows []tradeRecordRow
	since := time.Now().Add(-window)
	err := s.client.DB().WithContext(ctx).
		Where("timestamp > ?", since).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load recent trades")
	}

	trades := make([]domain.TradeRecord, len(rows))
	for i, row := range rows {
		trades[i] = row.toDomain()
	}
	return trades, nil
}

// HasTrade reports whether a trade already exists for the signal sequence.
func (s *Store) HasTrade(ctx context.Context, signalSeq uint64) (bool, error) {
	var count int64
	err := s.client.DB().WithContext(ctx).
		Model(&tradeRecordRow{}).
		Where("signal_seq = ?", signalSeq).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check trade by sequence")
	}
	return count > 0, nil
}

// LastExecutedSequence returns the highest signal sequence number that
// produced a trade, zero when no trades exist.
func (s *Store) LastExecutedSequence(ctx context.Context) (uint64, error) {
	var row tradeRecordRow
	err := s.client.DB().WithContext(ctx).Order("signal_seq DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "load last executed sequence")
	}
	return row.SignalSeq, nil
}

// GovernanceStatus returns the current governance singleton.
func (s *Store) GovernanceStatus(ctx context.Context) (*domain.GovernanceStatus, error) {
	var row governanceRow
	err := s.client.DB().WithContext(ctx).Where("id = ?", singletonID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoData
	}
	if err != nil {
		return nil, errors.Wrap(err, "load governance status")
	}
	status := row.toDomain()
	return &status, nil
}

// WriteGovernanceStatus performs a check-and-set write of the governance
// singleton. It fails with domain.ErrConcurrencyConflict when expectedVersion
// no longer matches the stored version, so a manual pause can never be
// silently overwritten by a stale writer.
func (s *Store) WriteGovernanceStatus(ctx context.Context, status domain.GovernanceStatus, expectedVersion uint64) error {
	res := s.client.DB().WithContext(ctx).
		Model(&governanceRow{}).
		Where("id = ? AND version = ?", singletonID, expectedVersion).
		Updates(map[string]any{
			"state":      string(status.State),
			"reason":     status.Reason,
			"version":    expectedVersion + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "write governance status")
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}
