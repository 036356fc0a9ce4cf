// Package controller sequences the RGS round lifecycle on top of the
// transport and the state store.
//
// The controller does not serialize concurrent operations. Callers must wait
// for one operation to return before starting the next.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/internal/state"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

// Operation names reported to the Recorder
const (
	OpInitialize     = "initialize"
	OpPlaceBet       = "place_bet"
	OpEndRound       = "end_round"
	OpRefreshBalance = "refresh_balance"
	OpSendEvent      = "send_event"
)

// ErrPrecondition is wrapped by every error returned before a network call
// because the current state forbids the operation.
var ErrPrecondition = errors.New("precondition failed")

var (
	ErrCannotPlay    error = &preconditionError{msg: "Cannot place bet in current state"}
	ErrNoActiveRound error = &preconditionError{msg: "No active round to end"}
	ErrInvalidAmount error = &preconditionError{msg: "Invalid bet amount"}
)

type preconditionError struct {
	msg string
}

func (e *preconditionError) Error() string { return e.msg }
func (e *preconditionError) Unwrap() error { return ErrPrecondition }

// Transport is the subset of *rgs.Client the controller drives
type Transport interface {
	Authenticate(ctx context.Context, language string) (*rgs.AuthenticateResponse, error)
	Play(ctx context.Context, amount int64, mode string) (*rgs.PlayResponse, error)
	GetBalance(ctx context.Context) (*rgs.BalanceResponse, error)
	EndRound(ctx context.Context) (*rgs.EndRoundResponse, error)
	SendEvent(ctx context.Context, event string) (*rgs.EventResponse, error)

	SessionID() string
	UpdateSessionID(sessionID string)
	UpdateLanguage(language string)
	UpdateCurrency(currency string)
}

// Outcome describes one completed controller operation
type Outcome struct {
	Operation string
	SessionID string
	State     domain.ClientState
	Err       error
	At        time.Time
}

// Recorder receives every completed operation, successful or not
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Controller drives one player session
type Controller struct {
	transport Transport
	store     *state.Store
	conv      domain.Converter
	recorder  Recorder
	clock     quartz.Clock
	logger    zerolog.Logger
}

// Option configures optional Controller collaborators
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRecorder reports every completed operation to r
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithClock sets the clock used to timestamp outcomes
func WithClock(clock quartz.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// New creates a controller. A nil store gets a fresh one.
func New(transport Transport, store *state.Store, conv domain.Converter, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		store:     store,
		conv:      conv,
		clock:     quartz.NewReal(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "controller").Logger()
	if c.store == nil {
		c.store = state.New(c.logger)
	}
	return c
}

// Store returns the state store the controller writes to
func (c *Controller) Store() *state.Store {
	return c.store
}

// Converter returns the unit converter
func (c *Controller) Converter() domain.Converter {
	return c.conv
}

// Initialize authenticates the session and restores any unfinished round
func (c *Controller) Initialize(ctx context.Context) error {
	c.store.ClearError()

	resp, err := c.transport.Authenticate(ctx, "")
	if err != nil {
		c.fail(OpInitialize, "Authentication failed", err)
		return c.finish(ctx, OpInitialize, fmt.Errorf("authenticate: %w", err))
	}

	changes := []state.Change{
		state.WithBalance(resp.Balance),
		state.WithConfig(resp.Config),
		state.WithUnsettledRound(nil),
	}
	if resp.Round.HasPayout() {
		changes = append(changes,
			state.WithCurrentRound(resp.Round),
			state.WithLastWin(resp.Round.Payout()),
			state.WithPhase(domain.PhasePlaying))
	} else {
		changes = append(changes,
			state.WithCurrentRound(nil),
			state.WithPhase(domain.PhaseIdle))
	}
	c.store.Update(changes...)

	return c.finish(ctx, OpInitialize, nil)
}

// PlaceBet places a bet of amount display units. An empty mode means
// rgs.DefaultMode.
func (c *Controller) PlaceBet(ctx context.Context, amount float64, mode string) error {
	if !c.store.CanPlay() {
		return c.precondition(ctx, OpPlaceBet, ErrCannotPlay)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return c.precondition(ctx, OpPlaceBet, ErrInvalidAmount)
	}
	apiAmount, err := c.conv.ToAPI(amount)
	if err != nil {
		return c.precondition(ctx, OpPlaceBet, ErrInvalidAmount)
	}

	c.store.ClearError()
	c.store.SetPhase(domain.PhasePlaying)

	resp, err := c.transport.Play(ctx, apiAmount, mode)
	if err != nil {
		c.fail(OpPlaceBet, "Bet failed", err)
		return c.finish(ctx, OpPlaceBet, fmt.Errorf("play: %w", err))
	}

	if resp.Round.HasPayout() {
		// Payout owed, stay in playing until EndRound collects it
		c.store.Update(
			state.WithBalance(resp.Balance),
			state.WithCurrentRound(resp.Round),
			state.WithLastWin(resp.Round.Payout()))
	} else {
		c.store.Update(
			state.WithBalance(resp.Balance),
			state.WithCurrentRound(nil),
			state.WithLastWin(0),
			state.WithPhase(domain.PhaseIdle))
	}

	return c.finish(ctx, OpPlaceBet, nil)
}

// EndRound collects the payout of the current round
func (c *Controller) EndRound(ctx context.Context) error {
	if !c.store.NeedsEndRound() {
		return c.precondition(ctx, OpEndRound, ErrNoActiveRound)
	}

	c.store.ClearError()

	resp, err := c.transport.EndRound(ctx)
	if err != nil {
		c.fail(OpEndRound, "End round failed", err)
		return c.finish(ctx, OpEndRound, fmt.Errorf("end round: %w", err))
	}

	c.store.Update(
		state.WithBalance(resp.Balance),
		state.WithCurrentRound(nil),
		state.WithPhase(domain.PhaseIdle))

	return c.finish(ctx, OpEndRound, nil)
}

// RefreshBalance reloads the balance. A failure sets the error but leaves
// the phase and any round in progress alone.
func (c *Controller) RefreshBalance(ctx context.Context) error {
	c.store.ClearError()

	resp, err := c.transport.GetBalance(ctx)
	if err != nil {
		c.store.SetError("Balance refresh failed: " + failureMessage(err))
		c.logger.Warn().Err(err).Str("operation", OpRefreshBalance).Msg("operation failed")
		return c.finish(ctx, OpRefreshBalance, fmt.Errorf("get balance: %w", err))
	}

	c.store.SetBalance(resp.Balance)
	return c.finish(ctx, OpRefreshBalance, nil)
}

// SendEvent forwards a client progress event. Like RefreshBalance, a
// failure does not change the phase.
func (c *Controller) SendEvent(ctx context.Context, event string) error {
	c.store.ClearError()

	if _, err := c.transport.SendEvent(ctx, event); err != nil {
		c.store.SetError("Event failed: " + failureMessage(err))
		c.logger.Warn().Err(err).Str("operation", OpSendEvent).Msg("operation failed")
		return c.finish(ctx, OpSendEvent, fmt.Errorf("send event: %w", err))
	}

	return c.finish(ctx, OpSendEvent, nil)
}

// ToDisplay converts API units to display currency
func (c *Controller) ToDisplay(apiAmount int64) float64 {
	return c.conv.ToDisplay(apiAmount)
}

// ToAPI converts display currency to API units
func (c *Controller) ToAPI(displayAmount float64) (int64, error) {
	return c.conv.ToAPI(displayAmount)
}

// DisplayBalance returns the current balance in display currency, 0 when
// the balance is unknown.
func (c *Controller) DisplayBalance() float64 {
	return c.conv.BalanceToDisplay(c.store.State().Balance)
}

// UpdateSessionID rotates the session token
func (c *Controller) UpdateSessionID(sessionID string) {
	c.transport.UpdateSessionID(sessionID)
}

// UpdateLanguage changes the authentication language
func (c *Controller) UpdateLanguage(language string) {
	c.transport.UpdateLanguage(language)
}

// UpdateCurrency changes the bet currency
func (c *Controller) UpdateCurrency(currency string) {
	c.transport.UpdateCurrency(currency)
}

// fail records a hard failure: phase error, and any held round is moved
// aside so CurrentRound stays nil outside playing.
func (c *Controller) fail(op, prefix string, err error) {
	changes := []state.Change{
		state.WithError(prefix + ": " + failureMessage(err)),
		state.WithPhase(domain.PhaseError),
	}
	if round := c.store.State().CurrentRound; round != nil {
		changes = append(changes,
			state.WithUnsettledRound(round),
			state.WithCurrentRound(nil))
	}
	c.store.Update(changes...)

	c.logger.Warn().Err(err).Str("operation", op).Msg("operation failed")
}

func (c *Controller) precondition(ctx context.Context, op string, err error) error {
	c.store.SetError(err.Error())
	c.logger.Debug().Str("operation", op).Str("phase", string(c.store.State().Phase)).
		Msg(err.Error())
	return c.finish(ctx, op, err)
}

// finish reports the outcome and returns err unchanged
func (c *Controller) finish(ctx context.Context, op string, err error) error {
	if c.recorder == nil {
		return err
	}

	outcome := Outcome{
		Operation: op,
		SessionID: c.transport.SessionID(),
		State:     c.store.State(),
		Err:       err,
		At:        c.clock.Now().UTC(),
	}
	// The journal outlives a cancelled or timed-out request
	if recErr := c.recorder.Record(context.WithoutCancel(ctx), outcome); recErr != nil {
		c.logger.Error().Err(recErr).Str("operation", op).Msg("failed to record outcome")
	}
	return err
}

func failureMessage(err error) string {
	var rgsErr *rgs.Error
	if errors.As(err, &rgsErr) {
		return rgsErr.Message
	}
	return err.Error()
}
