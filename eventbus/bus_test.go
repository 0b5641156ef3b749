package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusSyncDispatch(t *testing.T) {
	bus := NewMemoryBus(nil)

	var got []Event
	_, err := bus.Subscribe(EventConfigUpdate, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	}, WithMode(ModeSync))
	require.NoError(t, err)

	ev := NewEvent(EventConfigUpdate, map[string]any{"module": "auth"})
	require.NoError(t, bus.Emit(context.Background(), ev))

	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "auth", got[0].Data["module"])
}

func TestMemoryBusSyncHandlerErrorSurfaces(t *testing.T) {
	bus := NewMemoryBus(nil)
	boom := errors.New("boom")

	_, err := bus.Subscribe(EventConfigUpdate, func(context.Context, Event) error {
		return boom
	}, WithMode(ModeSync))
	require.NoError(t, err)

	err = bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil))
	assert.ErrorIs(t, err, boom)
}

func TestMemoryBusAsyncDispatch(t *testing.T) {
	bus := NewMemoryBus(nil)

	var (
		mu  sync.Mutex
		got int
	)
	_, err := bus.Subscribe(EventBoot, func(context.Context, Event) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventBoot, nil)))
	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventBoot, nil)))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, got)
}

func TestMemoryBusWildcard(t *testing.T) {
	bus := NewMemoryBus(nil)

	var types []string
	_, err := bus.Subscribe(TypeWildcard, func(_ context.Context, ev Event) error {
		types = append(types, ev.Type)
		return nil
	}, WithMode(ModeSync))
	require.NoError(t, err)

	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventBoot, nil)))
	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil)))

	assert.Equal(t, []string{EventBoot, EventConfigUpdate}, types)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)

	calls := 0
	cancel, err := bus.Subscribe(EventConfigUpdate, func(context.Context, Event) error {
		calls++
		return nil
	}, WithMode(ModeSync))
	require.NoError(t, err)

	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil)))
	cancel()
	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil)))

	assert.Equal(t, 1, calls)
}

func TestMemoryBusSubscribeByID(t *testing.T) {
	bus := NewMemoryBus(nil)

	first, second := 0, 0
	_, err := bus.Subscribe(EventConfigUpdate, func(context.Context, Event) error {
		first++
		return nil
	}, WithMode(ModeSync), WithID("listener"))
	require.NoError(t, err)

	// same ID replaces the previous handler
	_, err = bus.Subscribe(EventConfigUpdate, func(context.Context, Event) error {
		second++
		return nil
	}, WithMode(ModeSync), WithID("listener"))
	require.NoError(t, err)

	require.NoError(t, bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil)))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestNopBus(t *testing.T) {
	bus := NewNopBus()

	cancel, err := bus.Subscribe(EventConfigUpdate, func(context.Context, Event) error {
		t.Fatal("nop bus must never dispatch")
		return nil
	})
	require.NoError(t, err)
	cancel()

	assert.NoError(t, bus.Emit(context.Background(), NewEvent(EventConfigUpdate, nil)))
}
