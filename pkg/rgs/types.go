package rgs

import (
	"encoding/json"
	"time"
)

// Error codes produced by the client itself. Codes declared by the server
// are passed through unchanged.
const (
	ErrCodeTimeout = "TIMEOUT"
	ErrCodeNetwork = "NETWORK_ERROR"
	ErrCodeUnknown = "UNKNOWN_ERROR"
)

// Defaults applied by NewClient
const (
	DefaultLanguage      = "en"
	DefaultMode          = "BASE"
	DefaultTimeout       = 30 * time.Second
	DefaultAPIMultiplier = 1_000_000
)

// Endpoint paths relative to the configured base URL
const (
	PathAuthenticate = "/wallet/authenticate"
	PathPlay         = "/wallet/play"
	PathBalance      = "/wallet/balance"
	PathEndRound     = "/wallet/end-round"
	PathEvent        = "/bet/event"
)

// Balance is a server-authoritative amount in API units
type Balance struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// BetLevel is one selectable bet amount (API units)
type BetLevel struct {
	Level  int   `json:"level"`
	Amount int64 `json:"amount"`
}

// Jurisdiction carries the regulatory presentation flags for the session
type Jurisdiction struct {
	SocialCasino       bool `json:"socialCasino"`
	DisabledFullscreen bool `json:"disabledFullscreen"`
	DisabledTurbo      bool `json:"disabledTurbo"`
}

// GameConfig holds the betting parameters declared at authentication
type GameConfig struct {
	MinBet          int64        `json:"minBet"`
	MaxBet          int64        `json:"maxBet"`
	StepBet         int64        `json:"stepBet"`
	DefaultBetLevel int64        `json:"defaultBetLevel"`
	BetLevels       []BetLevel   `json:"betLevels"`
	Jurisdiction    Jurisdiction `json:"jurisdiction"`
}

// Clone returns a deep copy of the config
func (c *GameConfig) Clone() *GameConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.BetLevels != nil {
		out.BetLevels = append([]BetLevel(nil), c.BetLevels...)
	}
	return &out
}

// Clone returns a copy of the balance
func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// Event is one entry of a round's event book. Fields the schema does not
// name are kept in Extra.
type Event struct {
	Index int                        `json:"index"`
	Type  string                     `json:"type"`
	Extra map[string]json.RawMessage `json:"-"`
}

type eventFields struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (e *Event) UnmarshalJSON(data []byte) error {
	var known eventFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := splitExtra(data, "index", "type")
	if err != nil {
		return err
	}
	*e = Event{Index: known.Index, Type: known.Type, Extra: extra}
	return nil
}

// MarshalJSON writes the known fields merged with Extra
func (e Event) MarshalJSON() ([]byte, error) {
	return mergeExtra(eventFields{Index: e.Index, Type: e.Type}, e.Extra)
}

// Round is one bet-to-settlement cycle. A nil PayoutMultiplier and a zero
// one both mean nothing is owed; a positive one must be collected through
// end-round before the next bet.
type Round struct {
	ID               string                     `json:"id,omitempty"`
	State            string                     `json:"state,omitempty"`
	PayoutMultiplier *float64                   `json:"payoutMultiplier,omitempty"`
	Events           []Event                    `json:"events,omitempty"`
	TotalWin         *float64                   `json:"totalWin,omitempty"`
	Wins             []json.RawMessage          `json:"wins,omitempty"`
	Extra            map[string]json.RawMessage `json:"-"`
}

type roundFields struct {
	ID               string            `json:"id,omitempty"`
	State            string            `json:"state,omitempty"`
	PayoutMultiplier *float64          `json:"payoutMultiplier,omitempty"`
	Events           []Event           `json:"events,omitempty"`
	TotalWin         *float64          `json:"totalWin,omitempty"`
	Wins             []json.RawMessage `json:"wins,omitempty"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (r *Round) UnmarshalJSON(data []byte) error {
	var known roundFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := splitExtra(data, "id", "state", "payoutMultiplier", "events", "totalWin", "wins")
	if err != nil {
		return err
	}
	*r = Round{
		ID:               known.ID,
		State:            known.State,
		PayoutMultiplier: known.PayoutMultiplier,
		Events:           known.Events,
		TotalWin:         known.TotalWin,
		Wins:             known.Wins,
		Extra:            extra,
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra
func (r Round) MarshalJSON() ([]byte, error) {
	return mergeExtra(roundFields{
		ID:               r.ID,
		State:            r.State,
		PayoutMultiplier: r.PayoutMultiplier,
		Events:           r.Events,
		TotalWin:         r.TotalWin,
		Wins:             r.Wins,
	}, r.Extra)
}

// Payout returns the payout multiplier, 0 when the server sent none
func (r *Round) Payout() float64 {
	if r == nil || r.PayoutMultiplier == nil {
		return 0
	}
	return *r.PayoutMultiplier
}

// HasPayout reports whether a payout is owed for the round
func (r *Round) HasPayout() bool {
	return r.Payout() > 0
}

// Clone returns a deep copy of the round
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	if r.PayoutMultiplier != nil {
		v := *r.PayoutMultiplier
		out.PayoutMultiplier = &v
	}
	if r.TotalWin != nil {
		v := *r.TotalWin
		out.TotalWin = &v
	}
	if r.Events != nil {
		out.Events = make([]Event, len(r.Events))
		for i, ev := range r.Events {
			ev.Extra = cloneRaw(ev.Extra)
			out.Events[i] = ev
		}
	}
	if r.Wins != nil {
		out.Wins = make([]json.RawMessage, len(r.Wins))
		for i, w := range r.Wins {
			out.Wins[i] = append(json.RawMessage(nil), w...)
		}
	}
	out.Extra = cloneRaw(r.Extra)
	return &out
}

// Requests

// AuthenticateRequest is the request body for /wallet/authenticate
type AuthenticateRequest struct {
	SessionID string `json:"sessionID"`
	Language  string `json:"language,omitempty"`
}

// PlayRequest is the request body for /wallet/play
type PlayRequest struct {
	SessionID string `json:"sessionID"`
	Amount    int64  `json:"amount"`
	Mode      string `json:"mode"`
	Currency  string `json:"currency,omitempty"`
}

// BalanceRequest is the request body for /wallet/balance
type BalanceRequest struct {
	SessionID string `json:"sessionID"`
}

// EndRoundRequest is the request body for /wallet/end-round
type EndRoundRequest struct {
	SessionID string `json:"sessionID"`
}

// EventRequest is the request body for /bet/event
type EventRequest struct {
	SessionID string `json:"sessionID"`
	Event     string `json:"event"`
}

// Responses

// AuthenticateResponse is the result of a successful authentication.
// Round is set when the server restores an unfinished round.
type AuthenticateResponse struct {
	Balance *Balance    `json:"balance"`
	Config  *GameConfig `json:"config"`
	Round   *Round      `json:"round,omitempty"`
}

// PlayResponse is the result of a successful bet
type PlayResponse struct {
	Balance *Balance `json:"balance"`
	Round   *Round   `json:"round"`
}

// BalanceResponse is the result of a balance query
type BalanceResponse struct {
	Balance *Balance `json:"balance"`
}

// EndRoundResponse is the result of collecting a round
type EndRoundResponse struct {
	Balance *Balance `json:"balance"`
}

// EventResponse echoes the recorded event
type EventResponse struct {
	Event string `json:"event"`
}

// ErrorResponse is the envelope the server uses to declare a failure
type ErrorResponse struct {
	Error *Error `json:"error,omitempty"`
}

func splitExtra(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func mergeExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
