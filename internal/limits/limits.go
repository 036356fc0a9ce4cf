// Package limits checks display bet amounts against the server game config.
//
// The server remains the authority on bet validity; these checks let a UI
// reject an obviously illegal stake before spending a round trip on it.
//
// Rules, all in API units:
//   - minBet <= amount
//   - amount <= maxBet when maxBet is set
//   - (amount - minBet) is a multiple of stepBet when stepBet is set
package limits

import (
	"errors"
	"fmt"
	"math"

	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

var (
	ErrNoConfig      = errors.New("game config not loaded")
	ErrInvalidAmount = errors.New("bet amount must be a finite non-negative number within api range")
	ErrBelowMin      = errors.New("bet below minimum")
	ErrAboveMax      = errors.New("bet above maximum")
	ErrOffStep       = errors.New("bet not on a valid step")
)

// Checker validates bets against one GameConfig
type Checker struct {
	cfg  *rgs.GameConfig
	conv domain.Converter
}

// New creates a checker. A nil config yields a checker whose Validate
// always returns ErrNoConfig.
func New(cfg *rgs.GameConfig, conv domain.Converter) *Checker {
	return &Checker{cfg: cfg.Clone(), conv: conv}
}

// Validate checks a display bet amount
func (c *Checker) Validate(display float64) error {
	if c.cfg == nil {
		return ErrNoConfig
	}
	if math.IsNaN(display) || math.IsInf(display, 0) || display < 0 {
		return ErrInvalidAmount
	}

	amount, err := c.conv.ToAPI(display)
	if err != nil {
		return ErrInvalidAmount
	}
	if amount < c.cfg.MinBet {
		return fmt.Errorf("%w: %v < %v", ErrBelowMin, display, c.conv.ToDisplay(c.cfg.MinBet))
	}
	if c.cfg.MaxBet > 0 && amount > c.cfg.MaxBet {
		return fmt.Errorf("%w: %v > %v", ErrAboveMax, display, c.conv.ToDisplay(c.cfg.MaxBet))
	}
	if c.cfg.StepBet > 0 && (amount-c.cfg.MinBet)%c.cfg.StepBet != 0 {
		return fmt.Errorf("%w: step is %v", ErrOffStep, c.conv.ToDisplay(c.cfg.StepBet))
	}
	return nil
}

// DefaultBet returns the display amount a new session should preselect.
//
// defaultBetLevel names an entry of betLevels when one matches; otherwise
// a value of at least minBet is taken as an amount. Anything else falls
// back to minBet.
func (c *Checker) DefaultBet() float64 {
	if c.cfg == nil {
		return 0
	}
	for _, lvl := range c.cfg.BetLevels {
		if int64(lvl.Level) == c.cfg.DefaultBetLevel {
			return c.conv.ToDisplay(lvl.Amount)
		}
	}
	if c.cfg.DefaultBetLevel >= c.cfg.MinBet && (c.cfg.MaxBet == 0 || c.cfg.DefaultBetLevel <= c.cfg.MaxBet) {
		return c.conv.ToDisplay(c.cfg.DefaultBetLevel)
	}
	return c.conv.ToDisplay(c.cfg.MinBet)
}

// Level is a bet level in display currency
type Level struct {
	Level  int     `json:"level"`
	Amount float64 `json:"amount"`
}

// Levels returns the configured bet levels in display currency
func (c *Checker) Levels() []Level {
	if c.cfg == nil {
		return nil
	}
	out := make([]Level, 0, len(c.cfg.BetLevels))
	for _, lvl := range c.cfg.BetLevels {
		out = append(out, Level{Level: lvl.Level, Amount: c.conv.ToDisplay(lvl.Amount)})
	}
	return out
}

// Summary is the display view of the betting rules
type Summary struct {
	MinBet     float64 `json:"minBet"`
	MaxBet     float64 `json:"maxBet"`
	StepBet    float64 `json:"stepBet"`
	DefaultBet float64 `json:"defaultBet"`
	Levels     []Level `json:"levels"`
}

// Summary returns the rules in display currency, ErrNoConfig when unset
func (c *Checker) Summary() (*Summary, error) {
	if c.cfg == nil {
		return nil, ErrNoConfig
	}
	return &Summary{
		MinBet:     c.conv.ToDisplay(c.cfg.MinBet),
		MaxBet:     c.conv.ToDisplay(c.cfg.MaxBet),
		StepBet:    c.conv.ToDisplay(c.cfg.StepBet),
		DefaultBet: c.DefaultBet(),
		Levels:     c.Levels(),
	}, nil
}
