package domain

import (
	"time"

	"github.com/pkg/errors"
)

// TradeSignal is the latest trade recommendation carried by the signal channel.
// Each sequence number is consumed at most once.
type TradeSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate rejects malformed signals before they reach the execution path.
func (s *TradeSignal) Validate() error {
	if s.Symbol == "" {
		return errors.New("signal symbol is empty")
	}
	if _, err := ParseDirection(string(s.Direction)); err != nil {
		return err
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errors.Errorf("signal confidence %f out of [0,1]", s.Confidence)
	}
	if s.Sequence == 0 {
		return errors.New("signal sequence is zero")
	}
	if s.Timestamp.IsZero() {
		return errors.New("signal timestamp is zero")
	}
	return nil
}

// StaleAt reports whether the signal is older than threshold at the given moment.
func (s *TradeSignal) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.Timestamp) > threshold
}
