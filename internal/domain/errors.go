package domain

import "github.com/pkg/errors"

// Failure taxonomy shared by all processes. Business-rule violations are
// recovered locally by the owning loop; only ErrConcurrencyConflict is
// retried, and only once per tick.
var (
	// ErrNoData indicates the requested entity does not exist yet.
	ErrNoData = errors.New("no data found")
	// ErrStaleSignal indicates the published signal is older than the staleness threshold.
	ErrStaleSignal = errors.New("stale signal")
	// ErrDuplicateSignal indicates the signal sequence number already produced a trade.
	ErrDuplicateSignal = errors.New("signal sequence already executed")
	// ErrRiskLimitLocal indicates the coordinator's own risk checks rejected the trade.
	ErrRiskLimitLocal = errors.New("local risk limit exceeded")
	// ErrInsufficientFunds indicates the portfolio cannot cover the fill.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConcurrencyConflict indicates a versioned write lost a check-and-set race.
	ErrConcurrencyConflict = errors.New("optimistic concurrency conflict")
	// ErrAdvisoryUnavailable indicates the risk advisor could not be reached in budget.
	ErrAdvisoryUnavailable = errors.New("risk advisor unavailable")
)
