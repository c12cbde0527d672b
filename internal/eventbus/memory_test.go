package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Default())
	defer bus.Close()

	received := make(chan *Event, 1)
	_, err := bus.Subscribe("device.events", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	evt := NewEvent("device.changed", "test", map[string]any{"deviceId": 1})
	require.NoError(t, bus.Publish(context.Background(), "device.events", evt))

	select {
	case got := <-received:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestMemoryBus_WildcardMatching(t *testing.T) {
	bus := NewMemoryBus(logger.Default())
	defer bus.Close()

	received := make(chan string, 2)
	_, err := bus.Subscribe("device.*.changed", func(_ context.Context, e *Event) error {
		received <- e.Type
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "device.12.changed", NewEvent("a", "t", nil)))
	require.NoError(t, bus.Publish(context.Background(), "device.12.other", NewEvent("b", "t", nil)))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected matching subject to be delivered")
	}

	select {
	case <-received:
		t.Fatal("non-matching subject should not have been delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_QueueSubscribeRoundRobins(t *testing.T) {
	bus := NewMemoryBus(logger.Default())
	defer bus.Close()

	var countA, countB int64
	_, err := bus.QueueSubscribe("work", "workers", func(_ context.Context, _ *Event) error {
		atomic.AddInt64(&countA, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.QueueSubscribe("work", "workers", func(_ context.Context, _ *Event) error {
		atomic.AddInt64(&countB, 1)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), "work", NewEvent("job", "t", nil)))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&countA)+atomic.LoadInt64(&countB) == 10
	}, time.Second, 5*time.Millisecond)

	assert.Greater(t, atomic.LoadInt64(&countA), int64(0))
	assert.Greater(t, atomic.LoadInt64(&countB), int64(0))
}

func TestMemoryBus_CloseDeactivatesSubscriptions(t *testing.T) {
	bus := NewMemoryBus(logger.Default())
	sub, err := bus.Subscribe("x", func(_ context.Context, _ *Event) error { return nil })
	require.NoError(t, err)

	bus.Close()

	assert.False(t, sub.IsValid())
	assert.False(t, bus.IsConnected())
	assert.Error(t, bus.Publish(context.Background(), "x", NewEvent("x", "t", nil)))
}
