package workerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenerRegistry_DispatchOrder(t *testing.T) {
	reg := NewListenerRegistry(nil, nil, nil, nil)

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		_, err := reg.AddListener(func(ev Event) {
			order = append(order, i)
		})
		require.NoError(t, err)
	}

	reg.Dispatch(Event{Thread: "t1"})
	require.Equal(t, []int{0, 1, 2, 3}, order, "listeners should run in registration order")
}

func TestListenerRegistry_NilListenerRefused(t *testing.T) {
	reg := NewListenerRegistry(nil, nil, nil, nil)
	_, err := reg.AddListener(nil)
	require.ErrorIs(t, err, ErrNilListener)
	require.Equal(t, 0, reg.Len())
}

func TestListenerRegistry_RemoveUnknown(t *testing.T) {
	reg := NewListenerRegistry(nil, nil, nil, nil)
	require.False(t, reg.RemoveListener("never-registered"))

	id, err := reg.AddListener(func(ev Event) {})
	require.NoError(t, err)
	require.True(t, reg.RemoveListener(id))
	require.False(t, reg.RemoveListener(id), "a listener can only be removed once")
}

func TestListenerRegistry_PanicDoesNotStopDispatch(t *testing.T) {
	reg := NewListenerRegistry(nil, nil, nil, nil)

	var reached []string
	_, err := reg.AddListener(func(ev Event) {
		reached = append(reached, "first")
		panic("boom")
	})
	require.NoError(t, err)
	_, err = reg.AddListener(func(ev Event) {
		reached = append(reached, "second")
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		reg.Dispatch(Event{})
	}, "a panicking listener must never reach the event loop")
	require.Equal(t, []string{"first", "second"}, reached,
		"remaining listeners should still run after one panicked")
}

func TestListenerRegistry_SameEventToEveryListener(t *testing.T) {
	reg := NewListenerRegistry(nil, nil, nil, nil)

	var seen []string
	for i := 0; i < 3; i++ {
		_, err := reg.AddListener(func(ev Event) {
			seen = append(seen, ev.Thread)
		})
		require.NoError(t, err)
	}

	reg.Dispatch(Event{Thread: "t7"})
	require.Equal(t, []string{"t7", "t7", "t7"}, seen)
}
