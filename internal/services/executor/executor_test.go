package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradewarden/warden/internal/domain"
)

// fakeStore is an in-memory stand-in for the shared state store with the same
// transactional semantics: unique signal sequences and versioned portfolio.
type fakeStore struct {
	mu        sync.Mutex
	sample    *domain.MarketSample
	portfolio domain.PortfolioState
	trades    []domain.TradeRecord
	status    domain.GovernanceStatus

	// conflictsLeft makes the next N RecordTrade calls fail with a version
	// conflict while still refreshing the stored version, simulating a race.
	conflictsLeft int
	// cashAfterConflict, when set, is the cash the racing writer leaves behind.
	cashAfterConflict *decimal.Decimal
	// onConflict, when set, applies the racing writer's state change. Called
	// with the store lock held.
	onConflict func(*fakeStore)
}

func newFakeStore(cash decimal.Decimal, price decimal.Decimal) *fakeStore {
	return &fakeStore{
		sample: &domain.MarketSample{
			Symbol:    "TATASTEEL",
			Price:     price,
			Timestamp: time.Now(),
		},
		portfolio: domain.PortfolioState{
			Cash:      cash,
			Positions: map[string]decimal.Decimal{},
			Version:   1,
		},
		status: domain.GovernanceStatus{State: domain.GovernanceActive, Version: 1},
	}
}

func (f *fakeStore) LatestSample(_ context.Context, _ string) (*domain.MarketSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sample == nil {
		return nil, domain.ErrNoData
	}
	s := *f.sample
	return &s, nil
}

func (f *fakeStore) LatestPortfolio(_ context.Context) (*domain.PortfolioState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.portfolio
	p.Positions = make(map[string]decimal.Decimal, len(f.portfolio.Positions))
	for k, v := range f.portfolio.Positions {
		p.Positions[k] = v
	}
	return &p, nil
}

func (f *fakeStore) RecentTrades(_ context.Context, window time.Duration) ([]domain.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	since := time.Now().Add(-window)
	var out []domain.TradeRecord
	for _, t := range f.trades {
		if t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) HasTrade(_ context.Context, seq uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trades {
		if t.SignalSeq == seq {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) LastExecutedSequence(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last uint64
	for _, t := range f.trades {
		if t.SignalSeq > last {
			last = t.SignalSeq
		}
	}
	return last, nil
}

func (f *fakeStore) RecordTrade(_ context.Context, trade domain.TradeRecord, newPortfolio domain.PortfolioState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trades {
		if t.SignalSeq == trade.SignalSeq {
			return domain.ErrDuplicateSignal
		}
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		f.portfolio.Version++
		if f.cashAfterConflict != nil {
			f.portfolio.Cash = *f.cashAfterConflict
		}
		if f.onConflict != nil {
			f.onConflict(f)
		}
		return domain.ErrConcurrencyConflict
	}
	if newPortfolio.Cash.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	if newPortfolio.Version != f.portfolio.Version {
		return domain.ErrConcurrencyConflict
	}
	f.trades = append(f.trades, trade)
	f.portfolio = newPortfolio
	f.portfolio.Version = newPortfolio.Version + 1
	return nil
}

func (f *fakeStore) GovernanceStatus(_ context.Context) (*domain.GovernanceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	return &s, nil
}

type fakeSignals struct {
	mu     sync.Mutex
	signal *domain.TradeSignal
	err    error
}

func (f *fakeSignals) Read() (*domain.TradeSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.signal == nil {
		return nil, domain.ErrNoData
	}
	s := *f.signal
	return &s, nil
}

func (f *fakeSignals) publish(seq uint64, direction domain.Direction, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signal = &domain.TradeSignal{
		Symbol:     "TATASTEEL",
		Direction:  direction,
		Confidence: 0.8,
		Sequence:   seq,
		Timestamp:  time.Now().Add(-age),
	}
}

func testConfig() Config {
	return Config{
		Symbol:                "TATASTEEL",
		InitialBalance:        decimal.NewFromInt(100000),
		OrderSizePercent:      decimal.NewFromInt(25),
		MaxTradesPerWindow:    5,
		RiskWindow:            10 * time.Minute,
		MaxCapitalLossPercent: decimal.NewFromInt(2),
		StaleSignalThreshold:  2 * time.Minute,
	}
}

func newTestExecutor(t *testing.T, store *fakeStore, signals *fakeSignals) *Executor {
	t.Helper()
	ex, err := New(zap.NewNop(), testConfig(), store, signals, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ex.Close() })
	require.NoError(t, ex.Initialize(context.Background()))
	return ex
}

func TestTickExecutesBuy(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)

	// 25% of 100000 at price 100 buys 250 units
	require.True(t, record.Quantity.Equal(decimal.NewFromInt(250)), "got %s", record.Quantity)
	require.True(t, record.Balance.Equal(decimal.NewFromInt(75000)), "got %s", record.Balance)
	require.True(t, store.portfolio.Position("TATASTEEL").Equal(decimal.NewFromInt(250)))
	require.True(t, store.portfolio.Cash.GreaterThanOrEqual(decimal.Zero))
}

func TestTickSellClosesPosition(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(75000), decimal.NewFromInt(120))
	store.portfolio.Positions["TATASTEEL"] = decimal.NewFromInt(250)
	signals := &fakeSignals{}
	signals.publish(2, domain.DirectionSell, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.Quantity.Equal(decimal.NewFromInt(250)))
	require.True(t, record.Balance.Equal(decimal.NewFromInt(105000)), "got %s", record.Balance)
	require.True(t, store.portfolio.Position("TATASTEEL").IsZero())
}

func TestTickIdleWhilePaused(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	store.status = domain.GovernanceStatus{State: domain.GovernancePaused, Reason: "drawdown", Version: 2}
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, record)
	require.Empty(t, store.trades, "no trades may be appended while paused")
}

func TestTickSkipsStaleSignal(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 5*time.Minute)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrStaleSignal)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestTickSkipsHold(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionHold, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestTickDuplicateSequenceExecutesOnce(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(7, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	_, err := ex.Tick(context.Background())
	require.NoError(t, err)

	// same unconsumed signal re-read on the next tick
	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrDuplicateSignal)
	require.Nil(t, record)
	require.Len(t, store.trades, 1)
}

func TestTickRollingWindowLimit(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	ex := newTestExecutor(t, store, signals)

	// 5 valid buys within 9 minutes
	now := time.Now()
	for i := 0; i < 5; i++ {
		store.trades = append(store.trades, domain.TradeRecord{
			SignalSeq: uint64(i + 1),
			Symbol:    "TATASTEEL",
			Direction: domain.DirectionBuy,
			Quantity:  decimal.NewFromInt(1),
			Price:     decimal.NewFromInt(100),
			Timestamp: now.Add(-9*time.Minute + time.Duration(i)*time.Minute),
		})
	}
	ex.lastSeq = 5

	// 6th valid signal at minute 9.5
	signals.publish(6, domain.DirectionBuy, 0)
	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrRiskLimitLocal)
	require.Nil(t, record)
	require.Len(t, store.trades, 5, "6th trade must not be recorded")
}

func TestTickDrawdownLimit(t *testing.T) {
	// equity 97500 of 100000 initial: 2.5% drawdown over the 2% limit
	store := newFakeStore(decimal.NewFromInt(97500), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrRiskLimitLocal)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestTickDrawdownLimitInclusiveAtCap(t *testing.T) {
	// equity 98000 of 100000: exactly the 2% cap stops trading, matching the
	// governor's pause threshold
	store := newFakeStore(decimal.NewFromInt(98000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrRiskLimitLocal)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestTickInsufficientCash(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100), decimal.NewFromInt(1000))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	// drop the drawdown guard out of the way: initial balance matches cash
	cfg := testConfig()
	cfg.InitialBalance = decimal.NewFromInt(100)
	ex, err := New(zap.NewNop(), cfg, store, signals, t.TempDir())
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.Initialize(context.Background()))

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Nil(t, record)
}

func TestTickSellWithoutPosition(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionSell, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Nil(t, record)
}

func TestTickRetriesConflictOnce(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	store.conflictsLeft = 1
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, store.trades, 1)
}

func TestTickConflictRetryNeverOverdraws(t *testing.T) {
	// a racing coordinator instance wins the first commit and leaves only
	// 20000 behind; the original fill was sized against 100000
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	store.conflictsLeft = 1
	drained := decimal.NewFromInt(20000)
	store.cashAfterConflict = &drained
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	cfg := testConfig()
	cfg.OrderSizePercent = decimal.NewFromInt(100)
	ex, err := New(zap.NewNop(), cfg, store, signals, t.TempDir())
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.Initialize(context.Background()))

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Nil(t, record)
	require.Empty(t, store.trades)
	require.False(t, store.portfolio.Cash.IsNegative())
}

func TestTickConflictRetrySellCoversRefreshedPosition(t *testing.T) {
	// the racing writer already closed the position this sell was sized from
	store := newFakeStore(decimal.NewFromInt(75000), decimal.NewFromInt(100))
	store.portfolio.Positions["TATASTEEL"] = decimal.NewFromInt(250)
	store.conflictsLeft = 1
	store.onConflict = func(f *fakeStore) {
		delete(f.portfolio.Positions, "TATASTEEL")
		f.portfolio.Cash = decimal.NewFromInt(100000)
	}
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionSell, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestTickGivesUpAfterSecondConflict(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	store.conflictsLeft = 2
	signals := &fakeSignals{}
	signals.publish(1, domain.DirectionBuy, 0)

	ex := newTestExecutor(t, store, signals)

	record, err := ex.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.Nil(t, record)
	require.Empty(t, store.trades)
}

func TestRestartRecoversConsumedSequence(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	signals.publish(5, domain.DirectionBuy, 0)
	walDir := t.TempDir()

	ex, err := New(zap.NewNop(), testConfig(), store, signals, walDir)
	require.NoError(t, err)
	require.NoError(t, ex.Initialize(context.Background()))
	_, err = ex.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, ex.Close())

	// restarted coordinator rebuilds counters purely from persisted state
	restarted, err := New(zap.NewNop(), testConfig(), store, signals, walDir)
	require.NoError(t, err)
	defer restarted.Close()
	require.NoError(t, restarted.Initialize(context.Background()))
	require.Equal(t, uint64(5), restarted.lastSeq)

	record, err := restarted.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrDuplicateSignal)
	require.Nil(t, record)
	require.Len(t, store.trades, 1)
}

func TestRestartReconcilesPendingIntent(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	walDir := t.TempDir()

	// simulate a crash between the write-ahead marker and the store commit
	journal, err := openJournal(walDir)
	require.NoError(t, err)
	_, err = journal.Prepare(domain.TradeRecord{
		SignalSeq: 9,
		Symbol:    "TATASTEEL",
		Direction: domain.DirectionBuy,
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(100),
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	ex, err := New(zap.NewNop(), testConfig(), store, &fakeSignals{}, walDir)
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.Initialize(context.Background()))
	require.Empty(t, ex.journal.Pending(), "unconfirmed intent must be settled on restart")
}

func TestPortfolioReplayConsistency(t *testing.T) {
	store := newFakeStore(decimal.NewFromInt(100000), decimal.NewFromInt(100))
	signals := &fakeSignals{}
	ex := newTestExecutor(t, store, signals)
	ctx := context.Background()

	signals.publish(1, domain.DirectionBuy, 0)
	_, err := ex.Tick(ctx)
	require.NoError(t, err)

	store.sample.Price = decimal.NewFromInt(110)
	signals.publish(2, domain.DirectionSell, 0)
	_, err = ex.Tick(ctx)
	require.NoError(t, err)

	// replay all trade records from the initial balance
	replayed := decimal.NewFromInt(100000)
	for _, trade := range store.trades {
		cost := trade.Quantity.Mul(trade.Price)
		if trade.Direction == domain.DirectionBuy {
			replayed = replayed.Sub(cost)
		} else {
			replayed = replayed.Add(cost)
		}
		require.True(t, trade.Balance.Equal(replayed), "balance after %s", trade.String())
	}
	require.True(t, store.portfolio.Cash.Equal(replayed))
	require.True(t, store.portfolio.Cash.GreaterThanOrEqual(decimal.Zero))
}
