// Package domain defines core data structures shared by every warden process.
package domain

import "fmt"

// Direction is the side of a trade recommendation.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// ParseDirection validates a raw direction string.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionBuy, DirectionSell, DirectionHold:
		return Direction(raw), nil
	default:
		return "", fmt.Errorf("unknown trade direction %q", raw)
	}
}

// Tradeable reports whether the direction requires an order.
func (d Direction) Tradeable() bool {
	return d == DirectionBuy || d == DirectionSell
}
