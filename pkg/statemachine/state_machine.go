// Copyright 2025 Relgate Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// TransitionHook is triggered when a state transition occurs.
type TransitionHook[T comparable] func(from, to T) error

// TransitionRecord records a state transition in the FSM history.
type TransitionRecord[T comparable] struct {
	From      T
	To        T
	Timestamp time.Time
	Error     error
}

// StateMachine is a generic finite state machine.
// Transitions must be declared up front with Allow; undeclared transitions
// are rejected. Every transition attempt, including rejected ones, is
// recorded in the history. The StateMachine is safe for concurrent use.
type StateMachine[T comparable] struct {
	mu sync.RWMutex

	currentState T
	initialState T

	// from state -> list of valid next states
	validTransitions map[T][]T

	history        []TransitionRecord[T]
	maxHistorySize int

	onTransition []TransitionHook[T]
}

// NewWithState creates a new StateMachine with an initial state.
func NewWithState[T comparable](initial T) *StateMachine[T] {
	return &StateMachine[T]{
		currentState:     initial,
		initialState:     initial,
		validTransitions: make(map[T][]T),
		history:          make([]TransitionRecord[T], 0),
		maxHistorySize:   100,
	}
}

// Allow registers valid state transitions from a source state.
func (sm *StateMachine[T]) Allow(from T, to ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, target := range to {
		if !slices.Contains(sm.validTransitions[from], target) {
			sm.validTransitions[from] = append(sm.validTransitions[from], target)
		}
	}
	return sm
}

// OnTransition registers a hook that is called during any state transition.
func (sm *StateMachine[T]) OnTransition(h TransitionHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTransition = append(sm.onTransition, h)
	return sm
}

// Current returns the current state.
func (sm *StateMachine[T]) Current() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Initial returns the initial state.
func (sm *StateMachine[T]) Initial() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.initialState
}

// Is checks if the current state matches the given state.
func (sm *StateMachine[T]) Is(state T) bool {
	return sm.Current() == state
}

// IsOneOf checks if the current state is one of the given states.
func (sm *StateMachine[T]) IsOneOf(states ...T) bool {
	return slices.Contains(states, sm.Current())
}

// CanTransitTo checks if a transition to the target state is valid
// from the current state.
func (sm *StateMachine[T]) CanTransitTo(to T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Contains(sm.validTransitions[sm.currentState], to)
}

// History returns a copy of the transition history.
func (sm *StateMachine[T]) History() []TransitionRecord[T] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]TransitionRecord[T], len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitTo performs a transition from the current state to the target state.
// The transition is validated, hooks are run, and the attempt is recorded.
func (sm *StateMachine[T]) TransitTo(to T) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.currentState
	var transitionErr error

	defer func() {
		sm.history = append(sm.history, TransitionRecord[T]{
			From:      from,
			To:        to,
			Timestamp: time.Now(),
			Error:     transitionErr,
		})
		if len(sm.history) > sm.maxHistorySize {
			sm.history = sm.history[len(sm.history)-sm.maxHistorySize:]
		}
	}()

	if !slices.Contains(sm.validTransitions[from], to) {
		transitionErr = fmt.Errorf("invalid transition: %v -> %v", from, to)
		return transitionErr
	}

	for _, h := range sm.onTransition {
		if err := h(from, to); err != nil {
			transitionErr = fmt.Errorf("transition hook failed: %w", err)
			return transitionErr
		}
	}

	sm.currentState = to
	return nil
}

// MustTransitTo performs a transition from the current state and panics on error.
// Intended for transitions the caller has already proven valid.
func (sm *StateMachine[T]) MustTransitTo(to T) {
	if err := sm.TransitTo(to); err != nil {
		panic(err)
	}
}
