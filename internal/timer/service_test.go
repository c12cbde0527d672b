package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(logger.Default())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestService_StartTimer_FiresCallback(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Bool
	s.StartTimer("t1", 10*time.Millisecond, func(id string) {
		assert.Equal(t, "t1", id)
		fired.Store(true)
	})

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestService_CancelTimer_PreventsCallback(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Bool
	s.StartTimer("t1", 50*time.Millisecond, func(string) { fired.Store(true) })

	require.Eventually(t, func() bool { return s.CancelTimer("t1") }, time.Second, time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestService_CancelTimer_UnknownIDReturnsFalse(t *testing.T) {
	s := newTestService(t)
	assert.False(t, s.CancelTimer("nonexistent"))
}

func TestService_StartTimer_ReplacesExistingID(t *testing.T) {
	s := newTestService(t)

	var firstFired, secondFired atomic.Bool
	s.StartTimer("t1", 20*time.Millisecond, func(string) { firstFired.Store(true) })

	require.Eventually(t, func() bool {
		s.StartTimer("t1", 10*time.Millisecond, func(string) { secondFired.Store(true) })
		return true
	}, time.Second, time.Millisecond)

	require.Eventually(t, secondFired.Load, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, firstFired.Load())
}

func TestService_ResetTimer_RestartsCountdown(t *testing.T) {
	s := newTestService(t)

	var fired atomic.Bool
	s.StartTimer("t1", 30*time.Millisecond, func(string) { fired.Store(true) })

	time.Sleep(15 * time.Millisecond)
	require.Eventually(t, func() bool { return s.ResetTimer("t1") }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load(), "reset should have restarted the countdown from now")

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestService_ResetTimer_UnknownIDReturnsFalse(t *testing.T) {
	s := newTestService(t)
	assert.False(t, s.ResetTimer("nonexistent"))
}

func TestService_Stop_CancelsOutstandingTimers(t *testing.T) {
	s := NewService(logger.Default())
	s.Start()

	var fired atomic.Bool
	s.StartTimer("t1", 50*time.Millisecond, func(string) { fired.Store(true) })
	time.Sleep(10 * time.Millisecond)

	s.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}
