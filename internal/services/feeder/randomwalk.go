package feeder

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// RandomWalkSource generates a bounded random walk around a starting price.
// It keeps offline runs and tests independent of exchange availability.
type RandomWalkSource struct {
	mu          sync.Mutex
	price       decimal.Decimal
	stepPercent decimal.Decimal
	rnd         *rand.Rand
}

// NewRandomWalkSource creates a walk starting at start, moving up to
// stepPercent of the current price per tick.
func NewRandomWalkSource(start, stepPercent decimal.Decimal, seed int64) *RandomWalkSource {
	return &RandomWalkSource{
		price:       start,
		stepPercent: stepPercent,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

// GetPrice advances the walk one step and returns the new price.
func (s *RandomWalkSource) GetPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// step in (-stepPercent, +stepPercent) of the current price
	factor := decimal.NewFromFloat(s.rnd.Float64()*2 - 1)
	delta := s.price.Mul(s.stepPercent).Div(decimal.NewFromInt(100)).Mul(factor)

	s.price = s.price.Add(delta)
	if !s.price.IsPositive() {
		s.price = delta.Abs()
	}
	return s.price, nil
}
