// Package state holds the observable client-side session snapshot.
//
// The Store is the only writer of domain.ClientState. Every Update produces
// exactly one synchronous notification pass, in registration order, over a
// copy of the listener list taken when the pass starts.
//
// Passes never nest. An Update made while a pass is running, for example
// by a listener, is queued with its snapshot and delivered once the running
// pass finishes, so listeners see snapshots in update order and the last
// one they see is the current state. Such an Update returns before its own
// pass has run.
package state

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

// Listener receives a private copy of the snapshot after every mutation
type Listener func(domain.ClientState)

// Change is a shallow, whole-field replacement applied by Update
type Change func(*domain.ClientState)

type subscription struct {
	id       uint64
	listener Listener
}

// Store holds the current ClientState and its subscribers
type Store struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	state     domain.ClientState
	listeners []subscription
	nextID    uint64

	// pending holds snapshots not yet delivered; draining is set while a
	// goroutine is delivering them
	pending  []domain.ClientState
	draining bool
}

// New creates a store holding the empty snapshot
func New(logger zerolog.Logger) *Store {
	return &Store{
		logger: logger.With().Str("component", "state").Logger(),
		state:  domain.NewClientState(),
	}
}

// State returns a deep copy of the current snapshot
func (s *Store) State() domain.ClientState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers listener and immediately calls it with the current
// snapshot. The returned function removes the listener; calling it more
// than once is harmless.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, listener: listener})
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.deliver(listener, snapshot)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Update applies changes in order and notifies all current listeners once
func (s *Store) Update(changes ...Change) {
	s.mu.Lock()
	next := s.state
	for _, change := range changes {
		change(&next)
	}
	s.state = next
	s.pending = append(s.pending, s.state.Clone())
	s.mu.Unlock()

	s.notify()
}

// Reset returns the store to the empty snapshot, keeping subscriptions
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = domain.NewClientState()
	s.pending = append(s.pending, s.state.Clone())
	s.mu.Unlock()

	s.notify()
}

// notify delivers pending snapshots in order unless another call is
// already doing so
func (s *Store) notify() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		snapshot := s.pending[0]
		s.pending = s.pending[1:]
		listeners := make([]subscription, len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()

		for _, sub := range listeners {
			// Each listener gets its own copy so one cannot corrupt another's view
			s.deliver(sub.listener, snapshot.Clone())
		}

		s.mu.Lock()
	}

	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

// deliver isolates the caller from a panicking listener
func (s *Store) deliver(listener Listener, snapshot domain.ClientState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Err(fmt.Errorf("%v", r)).Msg("state listener panicked")
		}
	}()
	listener(snapshot)
}

// Setters. Each performs exactly one Update.

// SetPhase replaces the phase
func (s *Store) SetPhase(phase domain.Phase) { s.Update(WithPhase(phase)) }

// SetBalance replaces the balance
func (s *Store) SetBalance(b *rgs.Balance) { s.Update(WithBalance(b)) }

// SetConfig replaces the game config
func (s *Store) SetConfig(c *rgs.GameConfig) { s.Update(WithConfig(c)) }

// SetCurrentRound replaces the current round; nil clears it
func (s *Store) SetCurrentRound(r *rgs.Round) { s.Update(WithCurrentRound(r)) }

// SetUnsettledRound replaces the unsettled round; nil clears it
func (s *Store) SetUnsettledRound(r *rgs.Round) { s.Update(WithUnsettledRound(r)) }

// SetLastWin replaces the last win multiplier
func (s *Store) SetLastWin(w float64) { s.Update(WithLastWin(w)) }

// SetError replaces the error message
func (s *Store) SetError(msg string) { s.Update(WithError(msg)) }

// ClearError removes the error message
func (s *Store) ClearError() { s.Update(WithoutError()) }

// Changes

// WithPhase sets the phase
func WithPhase(phase domain.Phase) Change {
	return func(st *domain.ClientState) { st.Phase = phase }
}

// WithBalance sets the balance
func WithBalance(b *rgs.Balance) Change {
	b = b.Clone()
	return func(st *domain.ClientState) { st.Balance = b }
}

// WithConfig sets the game config
func WithConfig(c *rgs.GameConfig) Change {
	c = c.Clone()
	return func(st *domain.ClientState) { st.Config = c }
}

// WithCurrentRound sets the current round
func WithCurrentRound(r *rgs.Round) Change {
	r = r.Clone()
	return func(st *domain.ClientState) { st.CurrentRound = r }
}

// WithUnsettledRound sets the unsettled round
func WithUnsettledRound(r *rgs.Round) Change {
	r = r.Clone()
	return func(st *domain.ClientState) { st.UnsettledRound = r }
}

// WithLastWin sets the last win multiplier
func WithLastWin(w float64) Change {
	return func(st *domain.ClientState) { st.LastWin = w }
}

// WithError sets the error message
func WithError(msg string) Change {
	return func(st *domain.ClientState) { st.Error = &msg }
}

// WithoutError clears the error message
func WithoutError() Change {
	return func(st *domain.ClientState) { st.Error = nil }
}

// Predicates over the current snapshot

// IsIdle reports whether the phase is idle
func (s *Store) IsIdle() bool { return s.phase() == domain.PhaseIdle }

// IsPlaying reports whether the phase is playing
func (s *Store) IsPlaying() bool { return s.phase() == domain.PhasePlaying }

// IsEnded reports whether the phase is ended
func (s *Store) IsEnded() bool { return s.phase() == domain.PhaseEnded }

// HasError reports whether the phase is error or an error message is set
func (s *Store) HasError() bool { return s.read().HasError() }

// CanPlay reports whether a bet is legal: idle with a known positive balance
func (s *Store) CanPlay() bool { return s.read().CanPlay() }

// NeedsEndRound reports whether a payout is waiting to be collected
func (s *Store) NeedsEndRound() bool { return s.read().NeedsEndRound() }

// read returns the current snapshot without copying; callers must not
// retain or mutate pointer fields
func (s *Store) read() domain.ClientState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) phase() domain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase
}
