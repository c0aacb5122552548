// Package executor implements the execution coordinator: the decision loop
// that consumes published signals under governance gating, enforces local
// risk checks and records idempotent paper fills.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradewarden/warden/internal/domain"
)

type store interface {
	LatestSample(ctx context.Context, symbol string) (*domain.MarketSample, error)
	LatestPortfolio(ctx context.Context) (*domain.PortfolioState, error)
	RecentTrades(ctx context.Context, window time.Duration) ([]domain.TradeRecord, error)
	HasTrade(ctx context.Context, signalSeq uint64) (bool, error)
	LastExecutedSequence(ctx context.Context) (uint64, error)
	RecordTrade(ctx context.Context, trade domain.TradeRecord, newPortfolio domain.PortfolioState) error
	GovernanceStatus(ctx context.Context) (*domain.GovernanceStatus, error)
}

type signalReader interface {
	Read() (*domain.TradeSignal, error)
}

// Config carries the coordinator's risk and sizing policy.
type Config struct {
	Symbol                string
	InitialBalance        decimal.Decimal
	OrderSizePercent      decimal.Decimal
	MaxTradesPerWindow    int
	RiskWindow            time.Duration
	MaxCapitalLossPercent decimal.Decimal
	StaleSignalThreshold  time.Duration
}

// Executor is the per-tick state machine IDLE -> EVALUATING ->
// {EXECUTING|SKIPPED} -> IDLE. It is the sole writer of trade records and
// portfolio state and a read-only consumer of governance status.
type Executor struct {
	cfg     Config
	store   store
	signals signalReader
	journal *intentJournal
	logger  *zap.Logger

	// lastSeq is a cache of the highest executed sequence, rebuilt from the
	// store on startup; the store's unique index remains authoritative.
	lastSeq uint64
}

// New creates an executor with its write-ahead intent journal in walDir.
func New(logger *zap.Logger, cfg Config, st store, signals signalReader, walDir string) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	journal, err := openJournal(walDir)
	if err != nil {
		return nil, err
	}

	return &Executor{
		cfg:     cfg,
		store:   st,
		signals: signals,
		journal: journal,
		logger:  logger,
	}, nil
}

// Initialize reconciles intents left pending by a crash and rebuilds the
// consumed-sequence watermark purely from persisted state.
func (e *Executor) Initialize(ctx context.Context) error {
	for _, intent := range e.journal.Pending() {
		exists, err := e.store.HasTrade(ctx, intent.SignalSeq)
		if err != nil {
			return errors.Wrap(err, "reconcile pending trade intent")
		}
		if exists {
			// the store commit went through before the crash
			if err := e.journal.MarkDone(intent); err != nil {
				return err
			}
			e.logger.Info("reconciled pending intent as committed",
				zap.Uint64("signal_seq", intent.SignalSeq))
			continue
		}
		if err := e.journal.MarkFailed(intent, errors.New("unconfirmed after restart")); err != nil {
			return err
		}
		e.logger.Warn("discarded unconfirmed trade intent",
			zap.Uint64("signal_seq", intent.SignalSeq))
	}

	lastSeq, err := e.store.LastExecutedSequence(ctx)
	if err != nil {
		return errors.Wrap(err, "recover last executed sequence")
	}
	e.lastSeq = lastSeq

	e.logger.Info("execution coordinator initialized", zap.Uint64("last_sequence", lastSeq))
	return nil
}

// Tick runs one pass of the decision state machine. It returns the committed
// trade when one was executed; skip outcomes surface as the sentinel errors
// from the domain taxonomy and are safe to log-and-continue.
func (e *Executor) Tick(ctx context.Context) (*domain.TradeRecord, error) {
	status, err := e.store.GovernanceStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read governance status")
	}
	if status.Paused() {
		e.logger.Info("execution paused by governor", zap.String("reason", status.Reason))
		return nil, nil
	}

	signal, err := e.signals.Read()
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			return nil, domain.ErrNoData
		}
		e.logger.Warn("skipping malformed signal", zap.Error(err))
		return nil, nil
	}

	now := time.Now()
	if signal.StaleAt(now, e.cfg.StaleSignalThreshold) {
		e.logger.Info("SKIPPED_STALE",
			zap.Uint64("sequence", signal.Sequence),
			zap.Time("signal_time", signal.Timestamp))
		return nil, domain.ErrStaleSignal
	}

	if !signal.Direction.Tradeable() {
		return nil, nil
	}

	if err := e.checkConsumed(ctx, signal.Sequence); err != nil {
		return nil, err
	}

	portfolio, err := e.store.LatestPortfolio(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read portfolio state")
	}
	sample, err := e.store.LatestSample(ctx, e.cfg.Symbol)
	if err != nil {
		return nil, errors.Wrap(err, "read latest market sample")
	}

	if err := e.checkLocalRiskLimits(ctx, portfolio, sample.Price); err != nil {
		return nil, err
	}

	trade, err := e.buildFill(signal, portfolio, sample.Price, now)
	if err != nil {
		return nil, err
	}

	record, err := e.commit(ctx, trade, portfolio)
	if err != nil {
		return nil, err
	}

	e.logger.Info("trade executed",
		zap.String("trade", record.String()),
		zap.String("balance", record.Balance.StringFixed(2)),
		zap.Float64("confidence", signal.Confidence))
	return record, nil
}

// checkConsumed guards against duplicate ticks re-reading an unconsumed signal.
func (e *Executor) checkConsumed(ctx context.Context, seq uint64) error {
	if seq <= e.lastSeq {
		return domain.ErrDuplicateSignal
	}
	exists, err := e.store.HasTrade(ctx, seq)
	if err != nil {
		return errors.Wrap(err, "check signal sequence")
	}
	if exists {
		if seq > e.lastSeq {
			e.lastSeq = seq
		}
		return domain.ErrDuplicateSignal
	}
	return nil
}

// checkLocalRiskLimits enforces the coordinator's own rolling trade-count and
// drawdown limits. A violation never escalates to a pause; only the risk
// governor may pause trading.
func (e *Executor) checkLocalRiskLimits(ctx context.Context, portfolio *domain.PortfolioState, price decimal.Decimal) error {
	trades, err := e.store.RecentTrades(ctx, e.cfg.RiskWindow)
	if err != nil {
		return errors.Wrap(err, "read recent trades")
	}
	if len(trades) >= e.cfg.MaxTradesPerWindow {
		e.logger.Warn("RISK_LIMIT_LOCAL",
			zap.String("limit", "trade velocity"),
			zap.Int("trades_in_window", len(trades)),
			zap.Duration("window", e.cfg.RiskWindow))
		return domain.ErrRiskLimitLocal
	}

	equity := portfolio.Equity(map[string]decimal.Decimal{e.cfg.Symbol: price})
	drawdown := domain.DrawdownPercent(equity, e.cfg.InitialBalance)
	if drawdown.GreaterThanOrEqual(e.cfg.MaxCapitalLossPercent) {
		e.logger.Warn("RISK_LIMIT_LOCAL",
			zap.String("limit", "drawdown"),
			zap.String("drawdown_percent", drawdown.StringFixed(2)),
			zap.String("equity", equity.StringFixed(2)))
		return domain.ErrRiskLimitLocal
	}
	return nil
}

// buildFill computes the simulated paper fill at the latest known price.
// Quantities are whole units, matching exchange lot behavior for equities.
func (e *Executor) buildFill(signal *domain.TradeSignal, portfolio *domain.PortfolioState, price decimal.Decimal, now time.Time) (domain.TradeRecord, error) {
	var qty decimal.Decimal
	switch signal.Direction {
	case domain.DirectionBuy:
		budget := portfolio.Cash.Mul(e.cfg.OrderSizePercent).Div(decimal.NewFromInt(100))
		qty = budget.Div(price).Floor()
		if !qty.IsPositive() {
			e.logger.Info("skipping buy: insufficient cash",
				zap.String("cash", portfolio.Cash.StringFixed(2)),
				zap.String("price", price.StringFixed(2)))
			return domain.TradeRecord{}, domain.ErrInsufficientFunds
		}
	case domain.DirectionSell:
		qty = portfolio.Position(signal.Symbol)
		if !qty.IsPositive() {
			e.logger.Info("skipping sell: no open position", zap.String("symbol", signal.Symbol))
			return domain.TradeRecord{}, domain.ErrInsufficientFunds
		}
	}

	return domain.TradeRecord{
		ID:        uuid.New().String(),
		SignalSeq: signal.Sequence,
		Symbol:    signal.Symbol,
		Direction: signal.Direction,
		Quantity:  qty,
		Price:     price,
		Timestamp: now,
	}, nil
}

// commit journals the intent, records the trade atomically and retries a
// version conflict once with refreshed portfolio state before giving up for
// this tick.
func (e *Executor) commit(ctx context.Context, trade domain.TradeRecord, portfolio *domain.PortfolioState) (*domain.TradeRecord, error) {
	next := portfolio.WithFill(trade)
	trade.Balance = next.Cash

	intent, err := e.journal.Prepare(trade)
	if err != nil {
		return nil, errors.Wrap(err, "journal trade intent")
	}

	err = e.store.RecordTrade(ctx, trade, next)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		refreshed, rerr := e.store.LatestPortfolio(ctx)
		if rerr != nil {
			e.journal.MarkFailed(intent, rerr)
			return nil, errors.Wrap(rerr, "refresh portfolio after conflict")
		}
		next = refreshed.WithFill(trade)
		// the racing writer may have spent the cash or position this fill
		// was sized against; the fill must still be coverable
		if next.Cash.IsNegative() || next.Position(trade.Symbol).IsNegative() {
			e.logger.Info("skipping trade: fill no longer covered after conflict",
				zap.String("cash", refreshed.Cash.StringFixed(2)),
				zap.Uint64("sequence", trade.SignalSeq))
			e.journal.MarkFailed(intent, domain.ErrInsufficientFunds)
			return nil, domain.ErrInsufficientFunds
		}
		trade.Balance = next.Cash
		err = e.store.RecordTrade(ctx, trade, next)
	}

	switch {
	case err == nil:
		if jerr := e.journal.MarkDone(intent); jerr != nil {
			e.logger.Error("failed to mark trade intent done", zap.Error(jerr))
		}
		e.lastSeq = trade.SignalSeq
		return &trade, nil
	case errors.Is(err, domain.ErrDuplicateSignal):
		// another path already consumed this sequence; the marker is settled
		e.journal.MarkDone(intent)
		e.lastSeq = trade.SignalSeq
		return nil, domain.ErrDuplicateSignal
	case errors.Is(err, domain.ErrConcurrencyConflict):
		e.journal.MarkFailed(intent, err)
		return nil, domain.ErrConcurrencyConflict
	default:
		e.journal.MarkFailed(intent, err)
		return nil, errors.Wrap(err, "record trade")
	}
}

// IsSkip reports whether the tick error is an expected business-rule skip
// that the loop recovers from locally.
func IsSkip(err error) bool {
	return errors.Is(err, domain.ErrNoData) ||
		errors.Is(err, domain.ErrStaleSignal) ||
		errors.Is(err, domain.ErrDuplicateSignal) ||
		errors.Is(err, domain.ErrRiskLimitLocal) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrConcurrencyConflict)
}

// Close releases the intent journal.
func (e *Executor) Close() error {
	return e.journal.Close()
}
