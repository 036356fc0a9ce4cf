// Package domain contains the client-side session model for the RGS client.
//
// The server owns balance and round truth; these types only describe what
// the client currently believes, as last reported by the server.
package domain

import (
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

// Phase represents where the session is in the round lifecycle
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhaseEnded   Phase = "ended" // reserved, no transition reaches it yet
	PhaseError   Phase = "error"
)

// ClientState is the single authoritative client-side snapshot.
//
// CurrentRound is non-nil only while Phase is PhasePlaying. Error set with
// a phase other than PhaseError means a locally recovered failure.
type ClientState struct {
	Phase        Phase           `json:"phase"`
	Balance      *rgs.Balance    `json:"balance"`
	Config       *rgs.GameConfig `json:"config"`
	CurrentRound *rgs.Round      `json:"currentRound"`
	LastWin      float64         `json:"lastWin"`
	Error        *string         `json:"error"`

	// UnsettledRound holds the round that was active when an operation
	// failed. The server may consider it settled; the client cannot tell.
	UnsettledRound *rgs.Round `json:"unsettledRound,omitempty"`
}

// NewClientState returns the empty snapshot
func NewClientState() ClientState {
	return ClientState{Phase: PhaseIdle}
}

// Clone returns a deep copy of the snapshot
func (s ClientState) Clone() ClientState {
	out := s
	out.Balance = s.Balance.Clone()
	out.Config = s.Config.Clone()
	out.CurrentRound = s.CurrentRound.Clone()
	out.UnsettledRound = s.UnsettledRound.Clone()
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	return out
}

// CanPlay reports whether a bet is legal: idle with a known positive balance
func (s ClientState) CanPlay() bool {
	return s.Phase == PhaseIdle && s.Balance != nil && s.Balance.Amount > 0
}

// NeedsEndRound reports whether a payout is waiting to be collected
func (s ClientState) NeedsEndRound() bool {
	return s.Phase == PhasePlaying && s.CurrentRound.HasPayout()
}

// HasError reports whether the phase is error or an error message is set
func (s ClientState) HasError() bool {
	return s.Phase == PhaseError || s.Error != nil
}

// ErrorMessage returns the error text, empty when no error is set
func (s ClientState) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
