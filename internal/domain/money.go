package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alexbotov/rgsclient/pkg/rgs"
)

var (
	// ErrInvalidMultiplier is returned for a zero or negative API multiplier
	ErrInvalidMultiplier = errors.New("api multiplier must be positive")
	// ErrUnrepresentable is returned for a display amount that is not finite
	// or does not fit in int64 API units
	ErrUnrepresentable = errors.New("amount not representable in api units")
)

var (
	maxAPIAmount = decimal.NewFromInt(math.MaxInt64)
	minAPIAmount = decimal.NewFromInt(math.MinInt64)
)

// Converter translates between server API units and display currency.
// The server encodes currency as fixed-point integers: display × multiplier.
type Converter struct {
	multiplier decimal.Decimal
	raw        int64
}

// NewConverter creates a converter for the given multiplier
func NewConverter(multiplier int64) (Converter, error) {
	if multiplier <= 0 {
		return Converter{}, ErrInvalidMultiplier
	}
	return Converter{multiplier: decimal.NewFromInt(multiplier), raw: multiplier}, nil
}

// DefaultConverter uses the protocol's default multiplier of 1,000,000
func DefaultConverter() Converter {
	c, _ := NewConverter(rgs.DefaultAPIMultiplier)
	return c
}

// Multiplier returns the configured multiplier
func (c Converter) Multiplier() int64 {
	return c.raw
}

// ToDisplay converts API units to a display amount
func (c Converter) ToDisplay(apiAmount int64) float64 {
	return decimal.NewFromInt(apiAmount).Div(c.multiplier).InexactFloat64()
}

// ToAPI converts a display amount to API units, rounding half away from zero.
// The multiplication is done in decimal so 0.29 × 1e6 is exactly 290000.
// NaN, ±Inf and products outside int64 return ErrUnrepresentable.
func (c Converter) ToAPI(displayAmount float64) (int64, error) {
	if math.IsNaN(displayAmount) || math.IsInf(displayAmount, 0) {
		return 0, ErrUnrepresentable
	}
	amount := decimal.NewFromFloat(displayAmount).Mul(c.multiplier).Round(0)
	if amount.GreaterThan(maxAPIAmount) || amount.LessThan(minAPIAmount) {
		return 0, ErrUnrepresentable
	}
	return amount.IntPart(), nil
}

// BalanceToDisplay converts a balance, 0 when the balance is unknown
func (c Converter) BalanceToDisplay(b *rgs.Balance) float64 {
	if b == nil {
		return 0
	}
	return c.ToDisplay(b.Amount)
}
