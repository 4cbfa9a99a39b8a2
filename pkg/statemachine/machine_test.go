package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phase string

const (
	closed  phase = "closed"
	loading phase = "loading"
	ready   phase = "ready"
)

func table() map[phase][]phase {
	return map[phase][]phase{
		closed:  {loading},
		loading: {ready},
		ready:   {closed},
	}
}

func TestTransitionFollowsTable(t *testing.T) {
	ctx := context.Background()
	m := New(closed, table())

	prev, err := m.TransitionTo(ctx, loading, false)
	require.NoError(t, err)
	assert.Equal(t, closed, prev)

	prev, err = m.TransitionTo(ctx, ready, false)
	require.NoError(t, err)
	assert.Equal(t, loading, prev)

	_, err = m.TransitionTo(ctx, closed, false)
	require.NoError(t, err)
	assert.Equal(t, closed, m.Current())
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m := New(closed, table())

	for i := 0; i < 3; i++ {
		_, err := m.TransitionTo(ctx, ready, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, closed, te.From)
		assert.Equal(t, ready, te.To)
		assert.Equal(t, closed, m.Current())
	}
}

func TestIgnoreValidation(t *testing.T) {
	m := New(closed, table())
	prev, err := m.TransitionTo(context.Background(), ready, true)
	require.NoError(t, err)
	assert.Equal(t, closed, prev)
	assert.True(t, m.Is(ready))
}

func TestCanTransition(t *testing.T) {
	m := New(closed, table())
	assert.True(t, m.CanTransition(loading))
	assert.False(t, m.CanTransition(ready))
	assert.False(t, m.CanTransition(closed))
}

func TestHookOrder(t *testing.T) {
	var calls []string
	m := New(closed, table())
	m.RegisterHandler(closed, nil, func(context.Context) error {
		calls = append(calls, "exit closed")
		return nil
	})
	m.RegisterHandler(loading, func(context.Context) error {
		calls = append(calls, "enter loading:"+string(m.Current()))
		return nil
	}, nil)

	_, err := m.TransitionTo(context.Background(), loading, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"exit closed", "enter loading:loading"}, calls)
}

func TestRegisterHandlerReplaces(t *testing.T) {
	var calls []string
	m := New(closed, table())
	m.RegisterHandler(loading, func(context.Context) error {
		calls = append(calls, "first")
		return nil
	}, nil)
	m.RegisterHandler(loading, func(context.Context) error {
		calls = append(calls, "second")
		return nil
	}, nil)

	_, err := m.TransitionTo(context.Background(), loading, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, calls)
}

func TestRegisterHandlerNilClears(t *testing.T) {
	var calls []string
	m := New(closed, table())
	m.RegisterHandler(closed, nil, func(context.Context) error {
		calls = append(calls, "exit closed")
		return nil
	})
	m.RegisterHandler(closed, func(context.Context) error {
		calls = append(calls, "enter closed")
		return nil
	}, nil)

	_, err := m.TransitionTo(context.Background(), loading, false)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestExitHookErrorAbortsTransition(t *testing.T) {
	boom := errors.New("boom")
	m := New(closed, table())
	m.RegisterHandler(closed, nil, func(context.Context) error { return boom })

	_, err := m.TransitionTo(context.Background(), loading, false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, closed, m.Current())
}

func TestEnterHookErrorPropagatesAfterStateChange(t *testing.T) {
	boom := errors.New("boom")
	m := New(closed, table())
	m.RegisterHandler(loading, func(context.Context) error { return boom }, nil)

	prev, err := m.TransitionTo(context.Background(), loading, false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, closed, prev)
	assert.Equal(t, loading, m.Current())
}

func TestNestedTransitionFromHook(t *testing.T) {
	ctx := context.Background()
	m := New(closed, table())
	m.RegisterHandler(loading, func(ctx context.Context) error {
		_, err := m.TransitionTo(ctx, ready, false)
		return err
	}, nil)

	_, err := m.TransitionTo(ctx, loading, false)
	require.NoError(t, err)
	assert.Equal(t, ready, m.Current())
}

func TestLifecycleTables(t *testing.T) {
	em := NewEmulator()
	assert.Equal(t, EmulatorClosed, em.Current())
	assert.True(t, em.CanTransition(EmulatorLoading))
	_, err := em.TransitionTo(context.Background(), EmulatorReady, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = em.TransitionTo(context.Background(), EmulatorLoading, false)
	require.NoError(t, err)
	assert.True(t, em.CanTransition(EmulatorClosed))
	assert.Equal(t, "LOADING", em.Current().String())

	app := NewApp()
	assert.Equal(t, "CLOSED", app.Current().String())
	assert.False(t, app.CanTransition(AppReady))
}
