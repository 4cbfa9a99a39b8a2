// Package statemachine provides a small finite state machine with a fixed
// transition table and per-state enter/exit hooks.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError is returned when the target state is not reachable from
// the current one.
type TransitionError struct {
	From any
	To   any
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %v to %v", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Handler is run when a state is entered or left.
type Handler func(ctx context.Context) error

type hooks struct {
	onEnter Handler
	onExit  Handler
}

// StateMachine holds the current state of an owner (the emulator, an app)
// and applies transitions according to its table.
//
// Hooks run outside the internal lock, so a hook may itself request a
// transition. Callers should still drive a machine from one goroutine.
type StateMachine[S comparable] struct {
	mu      sync.Mutex
	current S
	table   map[S][]S
	hooks   map[S]*hooks
}

func New[S comparable](initial S, table map[S][]S) *StateMachine[S] {
	t := make(map[S][]S, len(table))
	for from, to := range table {
		t[from] = append([]S(nil), to...)
	}
	return &StateMachine[S]{
		current: initial,
		table:   t,
		hooks:   make(map[S]*hooks),
	}
}

func (m *StateMachine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *StateMachine[S]) Is(state S) bool {
	return m.Current() == state
}

// CanTransition reports whether target is allowed from the current state.
func (m *StateMachine[S]) CanTransition(target S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed(m.current, target)
}

func (m *StateMachine[S]) allowed(from, to S) bool {
	for _, s := range m.table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RegisterHandler replaces both hooks of a state. A nil handler clears that
// hook.
func (m *StateMachine[S]) RegisterHandler(state S, onEnter, onExit Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onEnter == nil && onExit == nil {
		delete(m.hooks, state)
		return
	}
	m.hooks[state] = &hooks{onEnter: onEnter, onExit: onExit}
}

// TransitionTo moves the machine to target and returns the previous state.
//
// The exit hook of the current state runs first; if it fails the state is
// left unchanged. The enter hook of target runs after the state has changed
// and its error is returned as is.
func (m *StateMachine[S]) TransitionTo(ctx context.Context, target S, ignoreValidation bool) (S, error) {
	m.mu.Lock()
	previous := m.current
	if !ignoreValidation && !m.allowed(previous, target) {
		m.mu.Unlock()
		return previous, &TransitionError{From: previous, To: target}
	}
	onExit := m.handler(previous, false)
	onEnter := m.handler(target, true)
	m.mu.Unlock()

	if onExit != nil {
		if err := onExit(ctx); err != nil {
			return previous, fmt.Errorf("leaving %v: %w", previous, err)
		}
	}

	m.mu.Lock()
	m.current = target
	m.mu.Unlock()

	if onEnter != nil {
		if err := onEnter(ctx); err != nil {
			return previous, fmt.Errorf("entering %v: %w", target, err)
		}
	}
	return previous, nil
}

func (m *StateMachine[S]) handler(state S, enter bool) Handler {
	h, ok := m.hooks[state]
	if !ok {
		return nil
	}
	if enter {
		return h.onEnter
	}
	return h.onExit
}
