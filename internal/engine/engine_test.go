package engine

import (
	"context"
	"testing"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, client hubitat.Client) (*RuleEngine, *timer.Service) {
	t.Helper()
	timers := timer.NewService(logger.Default())
	timers.Start()
	t.Cleanup(timers.Stop)
	return New(client, timers, nil, logger.Default()), timers
}

func waitClosed(t *testing.T, ch <-chan struct{}, d time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal(msg)
	}
}

func assertNeverCloses(t *testing.T, ch <-chan struct{}, d time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(d):
	}
}

func TestRuleEngine_SimpleFire(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{123: {"switch": "off"}})
	eng, _ := newTestEngine(t, client)

	cond := condition.NewStaticAttributeCondition(123, "switch", condition.OpEqual, "on")
	notifier, err := eng.AddCondition(context.Background(), cond)
	require.NoError(t, err)

	assertNeverCloses(t, notifier.Fired(), 20*time.Millisecond, "fire signal set before dispatch")

	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 123, Attribute: "switch", Value: "on"})

	waitClosed(t, notifier.Fired(), time.Second, "fire signal never set")
	assert.False(t, eng.GetConditionState(cond), "condition should no longer be tracked after firing")
}

func TestRuleEngine_Debounce(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{123: {"switch": "off"}})
	eng, _ := newTestEngine(t, client)

	cond := condition.NewStaticAttributeCondition(123, "switch", condition.OpEqual, "on")
	cond.SetDuration(80 * time.Millisecond)
	notifier, err := eng.AddCondition(context.Background(), cond)
	require.NoError(t, err)

	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 123, Attribute: "switch", Value: "on"})

	time.Sleep(30 * time.Millisecond)
	assert.False(t, eng.GetConditionState(cond), "DURATION_PENDING must appear false")
	assertNeverCloses(t, notifier.Fired(), 1*time.Millisecond, "must not fire before duration elapses")

	waitClosed(t, notifier.Fired(), time.Second, "fire signal never set after duration elapsed")
}

func TestRuleEngine_DebounceCancelledByMidFlightChange(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{123: {"switch": "off"}})
	eng, _ := newTestEngine(t, client)

	cond := condition.NewStaticAttributeCondition(123, "switch", condition.OpEqual, "on")
	cond.SetDuration(80 * time.Millisecond)
	notifier, err := eng.AddCondition(context.Background(), cond)
	require.NoError(t, err)

	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 123, Attribute: "switch", Value: "on"})
	time.Sleep(30 * time.Millisecond)
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 123, Attribute: "switch", Value: "off"})

	assertNeverCloses(t, notifier.Fired(), 150*time.Millisecond, "duration timer should have been cancelled")
}

func TestRuleEngine_Timeout(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{123: {"switch": "off"}})
	eng, _ := newTestEngine(t, client)

	cond := condition.NewStaticAttributeCondition(123, "switch", condition.OpEqual, "on")
	cond.SetTimeout(40 * time.Millisecond)
	notifier, err := eng.AddCondition(context.Background(), cond)
	require.NoError(t, err)

	waitClosed(t, notifier.TimedOut(), time.Second, "timeout signal never set")
	assert.False(t, eng.GetConditionState(cond))
}

func TestRuleEngine_BooleanAndWithOneDebouncedChild(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{
		1: {"motion": "inactive"},
		2: {"contact": "closed"},
	})
	eng, _ := newTestEngine(t, client)

	a := condition.NewStaticAttributeCondition(1, "motion", condition.OpEqual, "active")
	a.SetDuration(80 * time.Millisecond)
	b := condition.NewStaticAttributeCondition(2, "contact", condition.OpEqual, "open")
	and := condition.NewBooleanCondition([]condition.Condition{a, b}, condition.BoolAnd)

	notifier, err := eng.AddCondition(context.Background(), and)
	require.NoError(t, err)

	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "motion", Value: "active"})
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 2, Attribute: "contact", Value: "open"})

	assertNeverCloses(t, notifier.Fired(), 40*time.Millisecond,
		"AND must not fire while the debounced child is still DURATION_PENDING")

	waitClosed(t, notifier.Fired(), time.Second, "AND never fired once the debounce elapsed")
}

func TestRuleEngine_BooleanOrFiresThroughNonDebouncedBranch(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{
		1: {"motion": "inactive"},
		2: {"contact": "closed"},
	})
	eng, _ := newTestEngine(t, client)

	a := condition.NewStaticAttributeCondition(1, "motion", condition.OpEqual, "active")
	a.SetDuration(200 * time.Millisecond)
	b := condition.NewStaticAttributeCondition(2, "contact", condition.OpEqual, "open")
	or := condition.NewBooleanCondition([]condition.Condition{a, b}, condition.BoolOr)

	notifier, err := eng.AddCondition(context.Background(), or)
	require.NoError(t, err)

	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "motion", Value: "active"})
	time.Sleep(30 * time.Millisecond)
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 2, Attribute: "contact", Value: "open"})

	waitClosed(t, notifier.Fired(), 100*time.Millisecond, "OR must fire immediately via the non-debounced branch")
}

func TestRuleEngine_RemoveConditionIsIdempotent(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{123: {"switch": "off"}})
	eng, _ := newTestEngine(t, client)

	cond := condition.NewStaticAttributeCondition(123, "switch", condition.OpEqual, "on")
	_, err := eng.AddCondition(context.Background(), cond)
	require.NoError(t, err)

	eng.RemoveCondition(cond)
	eng.RemoveCondition(cond)

	assert.False(t, eng.GetConditionState(cond))
	assert.Empty(t, eng.deviceToConditions)
	assert.Empty(t, eng.conditionDeps)
}
