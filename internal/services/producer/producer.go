// Package producer turns recent market samples into trade recommendations
// and publishes them to the signal channel with a monotonic sequence number.
// The indicator strategy here is a simple RSI mean-reversion reference; the
// channel contract is what the rest of the system depends on.
package producer

import (
	"context"
	"math"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tradewarden/warden/internal/domain"
)

type store interface {
	RecentSamples(ctx context.Context, symbol string, limit int) ([]domain.MarketSample, error)
	LastExecutedSequence(ctx context.Context) (uint64, error)
}

type channel interface {
	Publish(signal domain.TradeSignal) error
	Read() (*domain.TradeSignal, error)
}

// Config carries indicator parameters and decision bands.
type Config struct {
	Symbol     string
	RSIPeriod  int
	SMAPeriod  int
	Oversold   float64
	Overbought float64
	// MinSamples is the minimum history needed before producing signals.
	MinSamples int
}

// Producer computes and publishes one recommendation per tick.
type Producer struct {
	cfg     Config
	store   store
	channel channel
	logger  *zap.Logger
	seq     uint64
}

// New creates a producer. Call Initialize before the first Tick.
func New(logger *zap.Logger, cfg Config, st store, ch channel) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.SMAPeriod == 0 {
		cfg.SMAPeriod = 20
	}
	if cfg.Oversold == 0 {
		cfg.Oversold = 30
	}
	if cfg.Overbought == 0 {
		cfg.Overbought = 70
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = 50
	}

	return &Producer{cfg: cfg, store: st, channel: ch, logger: logger}
}

// Initialize resumes the monotonic sequence across restarts. The channel file
// alone is not enough: it may have been cleaned up while the store still
// holds executed trades, and reusing a consumed sequence number would make
// the coordinator discard every new signal as a duplicate.
func (p *Producer) Initialize(ctx context.Context) error {
	if last, err := p.channel.Read(); err == nil && last.Sequence > p.seq {
		p.seq = last.Sequence
	}

	executed, err := p.store.LastExecutedSequence(ctx)
	if err != nil {
		return errors.Wrap(err, "recover last executed sequence")
	}
	if executed > p.seq {
		p.seq = executed
	}

	p.logger.Info("signal producer initialized", zap.Uint64("last_sequence", p.seq))
	return nil
}

// Tick computes the latest recommendation and publishes it.
func (p *Producer) Tick(ctx context.Context) error {
	samples, err := p.store.RecentSamples(ctx, p.cfg.Symbol, p.cfg.MinSamples*4)
	if err != nil {
		return errors.Wrap(err, "load recent samples")
	}
	if len(samples) < p.cfg.MinSamples {
		p.logger.Debug("not enough samples yet",
			zap.Int("have", len(samples)),
			zap.Int("need", p.cfg.MinSamples))
		return domain.ErrNoData
	}

	closes := make([]float64, len(samples))
	for i, s := range samples {
		closes[i], _ = s.Price.Float64()
	}

	rsi := lastValue(momentum.NewRsiWithPeriod[float64](p.cfg.RSIPeriod).Compute(helper.SliceToChan(closes)))
	sma := lastValue(trend.NewSmaWithPeriod[float64](p.cfg.SMAPeriod).Compute(helper.SliceToChan(closes)))
	price := closes[len(closes)-1]

	direction := domain.DirectionHold
	switch {
	case rsi <= p.cfg.Oversold:
		direction = domain.DirectionBuy
	case rsi >= p.cfg.Overbought:
		direction = domain.DirectionSell
	}

	signal := domain.TradeSignal{
		Symbol:     p.cfg.Symbol,
		Direction:  direction,
		Confidence: confidence(rsi),
		Sequence:   p.seq + 1,
		Timestamp:  time.Now(),
	}
	if err := p.channel.Publish(signal); err != nil {
		return errors.Wrap(err, "publish signal")
	}
	p.seq = signal.Sequence

	p.logger.Info("signal published",
		zap.String("direction", string(direction)),
		zap.Uint64("sequence", signal.Sequence),
		zap.Float64("rsi", rsi),
		zap.Float64("sma", sma),
		zap.Float64("price", price),
		zap.Float64("confidence", signal.Confidence))
	return nil
}

// confidence maps RSI distance from neutral into [0,1].
func confidence(rsi float64) float64 {
	c := math.Abs(rsi-50) / 50
	if c > 1 {
		c = 1
	}
	return math.Round(c*10000) / 10000
}

func lastValue(ch <-chan float64) float64 {
	var last float64
	for v := range ch {
		last = v
	}
	return last
}

// LastSequence returns the last published sequence number.
func (p *Producer) LastSequence() uint64 {
	return p.seq
}
