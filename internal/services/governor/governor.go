// Package governor implements the risk governor: a periodic evaluator of
// trading history that can pause and resume execution through the versioned
// governance status.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradewarden/warden/internal/clients"
	"github.com/tradewarden/warden/internal/domain"
)

type store interface {
	LatestSample(ctx context.Context, symbol string) (*domain.MarketSample, error)
	LatestPortfolio(ctx context.Context) (*domain.PortfolioState, error)
	RecentTrades(ctx context.Context, window time.Duration) ([]domain.TradeRecord, error)
	GovernanceStatus(ctx context.Context) (*domain.GovernanceStatus, error)
	WriteGovernanceStatus(ctx context.Context, status domain.GovernanceStatus, expectedVersion uint64) error
}

// Config carries the governor's risk thresholds.
type Config struct {
	Symbol                string
	InitialBalance        decimal.Decimal
	MaxCapitalLossPercent decimal.Decimal
	MaxTradesPerWindow    int
	RiskWindow            time.Duration
	AdvisoryTimeout       time.Duration
}

// Governor is the sole writer of governance status and a read-only consumer
// of trade and portfolio data. A local rule violation is authoritative even
// without the advisor; the advisor is consulted as an additional signal and
// for the human-readable reason.
type Governor struct {
	cfg     Config
	store   store
	advisor clients.Advisor
	logger  *zap.Logger
}

// New creates a governor.
func New(logger *zap.Logger, cfg Config, st store, advisor clients.Advisor) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdvisoryTimeout == 0 {
		cfg.AdvisoryTimeout = 30 * time.Second
	}
	return &Governor{cfg: cfg, store: st, advisor: advisor, logger: logger}
}

// assessment aggregates one cycle's view of recent performance.
type assessment struct {
	summary clients.PerformanceSummary
	breach  bool
	reason  string
}

// Cycle runs one governance evaluation.
func (g *Governor) Cycle(ctx context.Context) error {
	status, err := g.store.GovernanceStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "read governance status")
	}

	res, err := g.assess(ctx, status)
	if err != nil {
		return err
	}

	switch {
	case !status.Paused() && res.breach:
		return g.pause(ctx, status, res)
	case status.Paused() && !res.breach:
		return g.tryResume(ctx, status, res)
	default:
		g.logger.Debug("governance unchanged",
			zap.String("state", string(status.State)),
			zap.String("drawdown_percent", res.summary.DrawdownPercent.StringFixed(2)),
			zap.Int("trades_in_window", res.summary.TradesInWindow))
		return nil
	}
}

func (g *Governor) assess(ctx context.Context, status *domain.GovernanceStatus) (assessment, error) {
	portfolio, err := g.store.LatestPortfolio(ctx)
	if err != nil {
		return assessment{}, errors.Wrap(err, "read portfolio state")
	}
	trades, err := g.store.RecentTrades(ctx, g.cfg.RiskWindow)
	if err != nil {
		return assessment{}, errors.Wrap(err, "read recent trades")
	}

	prices := map[string]decimal.Decimal{}
	if sample, err := g.store.LatestSample(ctx, g.cfg.Symbol); err == nil {
		prices[g.cfg.Symbol] = sample.Price
	} else if !errors.Is(err, domain.ErrNoData) {
		return assessment{}, errors.Wrap(err, "read latest market sample")
	}

	equity := portfolio.Equity(prices)
	drawdown := domain.DrawdownPercent(equity, g.cfg.InitialBalance)

	res := assessment{
		summary: clients.PerformanceSummary{
			Symbol:                g.cfg.Symbol,
			InitialBalance:        g.cfg.InitialBalance,
			Cash:                  portfolio.Cash,
			Equity:                equity,
			DrawdownPercent:       drawdown,
			TradesInWindow:        len(trades),
			Window:                g.cfg.RiskWindow,
			MaxCapitalLossPercent: g.cfg.MaxCapitalLossPercent,
			MaxTradesPerWindow:    g.cfg.MaxTradesPerWindow,
			RecentTrades:          trades,
			Paused:                status.Paused(),
			TriggerReason:         status.Reason,
		},
	}

	if drawdown.GreaterThanOrEqual(g.cfg.MaxCapitalLossPercent) {
		res.breach = true
		res.reason = fmt.Sprintf("drawdown %s%% reached limit %s%%",
			drawdown.StringFixed(2), g.cfg.MaxCapitalLossPercent.String())
	} else if len(trades) > g.cfg.MaxTradesPerWindow {
		res.breach = true
		res.reason = fmt.Sprintf("%d trades in %s exceeded limit %d",
			len(trades), g.cfg.RiskWindow, g.cfg.MaxTradesPerWindow)
	}
	if res.breach {
		res.summary.TriggerReason = res.reason
	}

	return res, nil
}

// pause transitions to PAUSED. The local rule is authoritative: an
// unreachable advisor only costs the richer rationale.
func (g *Governor) pause(ctx context.Context, status *domain.GovernanceStatus, res assessment) error {
	reason := res.reason
	if advice, err := g.consult(ctx, res.summary); err != nil {
		g.logger.Warn("advisor unavailable, pausing on local rule", zap.Error(err))
	} else if advice.Rationale != "" {
		reason = fmt.Sprintf("%s (advisor: %s)", res.reason, advice.Rationale)
	}

	next := domain.GovernanceStatus{State: domain.GovernancePaused, Reason: reason}
	if err := g.write(ctx, next, status.Version); err != nil {
		return err
	}

	g.logger.Warn("trading PAUSED", zap.String("reason", reason))
	return nil
}

// tryResume transitions back to ACTIVE only when the triggering condition has
// cleared AND the advisor approves. Absent explicit approval the governor
// stays paused: fail-closed.
func (g *Governor) tryResume(ctx context.Context, status *domain.GovernanceStatus, res assessment) error {
	advice, err := g.consult(ctx, res.summary)
	if err != nil {
		g.logger.Warn("advisor unavailable, staying paused", zap.Error(err))
		return nil
	}
	if advice.Recommendation != domain.RecommendationContinue {
		g.logger.Info("advisor declined resume", zap.String("rationale", advice.Rationale))
		return nil
	}

	reason := "risk conditions cleared"
	if advice.Rationale != "" {
		reason = fmt.Sprintf("risk conditions cleared (advisor: %s)", advice.Rationale)
	}

	next := domain.GovernanceStatus{State: domain.GovernanceActive, Reason: reason}
	if err := g.write(ctx, next, status.Version); err != nil {
		return err
	}

	g.logger.Info("trading RESUMED", zap.String("reason", reason))
	return nil
}

// write performs the check-and-set. A conflict means someone else changed the
// status since we read it, e.g. a manual override; re-read and decide again
// on the next cycle instead of overwriting.
func (g *Governor) write(ctx context.Context, next domain.GovernanceStatus, expectedVersion uint64) error {
	err := g.store.WriteGovernanceStatus(ctx, next, expectedVersion)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		current, rerr := g.store.GovernanceStatus(ctx)
		if rerr != nil {
			return errors.Wrap(rerr, "re-read governance status after conflict")
		}
		g.logger.Warn("governance status changed concurrently, deferring to next cycle",
			zap.String("current_state", string(current.State)),
			zap.String("current_reason", current.Reason),
			zap.Uint64("current_version", current.Version))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "write governance status")
	}
	return nil
}

func (g *Governor) consult(ctx context.Context, summary clients.PerformanceSummary) (*domain.Advice, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.AdvisoryTimeout)
	defer cancel()
	return g.advisor.Advise(cctx, summary)
}
