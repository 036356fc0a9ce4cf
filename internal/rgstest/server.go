// Package rgstest provides an in-process RGS for tests.
//
// The server keeps one wallet and at most one unsettled round. Bet outcomes
// are scripted with QueuePayouts; unscripted bets lose.
package rgstest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/alexbotov/rgsclient/pkg/rgs"
)

// Error codes returned by the fake server
const (
	ErrInvalidSession    = "ERR_IS"
	ErrInsufficientFunds = "ERR_IPB"
	ErrValidation        = "ERR_VAL"
)

// Request is one call received by the server
type Request struct {
	Path string
	Body map[string]any
}

// Server is a scriptable RGS
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	sessionID string
	balance   rgs.Balance
	config    rgs.GameConfig
	pending   *rgs.Round
	owed      int64
	payouts   []*float64
	failures  map[string]*rgs.Error
	statuses  map[string]int
	requests  []Request
}

// New starts a server accepting sessionID with the given opening balance
func New(sessionID string, balance int64) *Server {
	s := &Server{
		sessionID: sessionID,
		balance:   rgs.Balance{Amount: balance, Currency: "USD"},
		config:    DefaultConfig(),
		failures:  make(map[string]*rgs.Error),
		statuses:  make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc(rgs.PathAuthenticate, s.handleAuthenticate).Methods(http.MethodPost)
	r.HandleFunc(rgs.PathPlay, s.handlePlay).Methods(http.MethodPost)
	r.HandleFunc(rgs.PathBalance, s.handleBalance).Methods(http.MethodPost)
	r.HandleFunc(rgs.PathEndRound, s.handleEndRound).Methods(http.MethodPost)
	r.HandleFunc(rgs.PathEvent, s.handleEvent).Methods(http.MethodPost)
	r.Use(s.intercept)

	s.Server = httptest.NewServer(r)
	return s
}

// DefaultConfig is the game config served unless SetConfig replaces it
func DefaultConfig() rgs.GameConfig {
	return rgs.GameConfig{
		MinBet:          100000,
		MaxBet:          100000000,
		StepBet:         100000,
		DefaultBetLevel: 1000000,
		BetLevels: []rgs.BetLevel{
			{Level: 1, Amount: 100000},
			{Level: 2, Amount: 1000000},
			{Level: 3, Amount: 10000000},
		},
	}
}

// SetConfig replaces the served game config
func (s *Server) SetConfig(cfg rgs.GameConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// QueuePayouts scripts the payout multipliers of the next bets in order.
// A nil entry produces a round without a payoutMultiplier field.
func (s *Server) QueuePayouts(payouts ...*float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, payouts...)
}

// FailNext makes the next call to path return err in the error envelope
func (s *Server) FailNext(path string, err *rgs.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = err
}

// FailNextStatus makes the next call to path return an empty body with status
func (s *Server) FailNextStatus(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[path] = status
}

// Balance returns the wallet balance in API units
func (s *Server) Balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance.Amount
}

// Pending returns a copy of the unsettled round, nil when none
func (s *Server) Pending() *rgs.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Clone()
}

// Requests returns the calls received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls path received
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// intercept records the call, checks the session and applies scripted failures
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, &rgs.Error{Code: ErrValidation, Message: "invalid JSON body"})
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{Path: r.URL.Path, Body: body})
		status, failStatus := s.statuses[r.URL.Path]
		delete(s.statuses, r.URL.Path)
		failure := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		sessionOK := body["sessionID"] == s.sessionID
		s.mu.Unlock()

		switch {
		case failStatus:
			w.WriteHeader(status)
		case failure != nil:
			writeError(w, http.StatusOK, failure)
		case !sessionOK:
			writeError(w, http.StatusUnauthorized, &rgs.Error{Code: ErrInvalidSession, Message: "invalid session"})
		default:
			r = r.WithContext(withBody(r.Context(), body))
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config.Clone()
	writeJSON(w, rgs.AuthenticateResponse{
		Balance: s.balance.Clone(),
		Config:  cfg,
		Round:   s.pending.Clone(),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	amountF, _ := body["amount"].(float64)
	amount := int64(amountF)
	mode, _ := body["mode"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.pending != nil:
		writeError(w, http.StatusOK, &rgs.Error{Code: ErrValidation, Message: "round in progress"})
		return
	case mode == "":
		writeError(w, http.StatusOK, &rgs.Error{Code: ErrValidation, Message: "mode is required"})
		return
	case amount < s.config.MinBet || (s.config.MaxBet > 0 && amount > s.config.MaxBet):
		writeError(w, http.StatusOK, &rgs.Error{Code: ErrValidation, Message: "bet out of range"})
		return
	case amount > s.balance.Amount:
		writeError(w, http.StatusOK, &rgs.Error{Code: ErrInsufficientFunds, Message: "insufficient balance"})
		return
	}

	var payout *float64
	if len(s.payouts) > 0 {
		payout, s.payouts = s.payouts[0], s.payouts[1:]
	} else {
		zero := 0.0
		payout = &zero
	}

	s.balance.Amount -= amount
	round := &rgs.Round{
		ID:               uuid.New().String(),
		State:            "completed",
		PayoutMultiplier: payout,
		Events:           []rgs.Event{{Index: 0, Type: "reveal"}},
	}
	if payout != nil && *payout > 0 {
		round.State = "active"
		s.owed = decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(*payout)).Round(0).IntPart()
		s.pending = round.Clone()
	}

	writeJSON(w, rgs.PlayResponse{Balance: s.balance.Clone(), Round: round})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, rgs.BalanceResponse{Balance: s.balance.Clone()})
}

func (s *Server) handleEndRound(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		writeError(w, http.StatusOK, &rgs.Error{Code: ErrValidation, Message: "no active round"})
		return
	}
	s.balance.Amount += s.owed
	s.owed = 0
	s.pending = nil

	writeJSON(w, rgs.EndRoundResponse{Balance: s.balance.Clone()})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	event, _ := bodyFrom(r.Context())["event"].(string)
	writeJSON(w, rgs.EventResponse{Event: event})
}

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]any) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) map[string]any {
	body, _ := ctx.Value(bodyKey{}).(map[string]any)
	return body
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err *rgs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rgs.ErrorResponse{Error: err})
}
