package rulehandler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/timer"
)

func newTestHandler(t *testing.T, client hubitat.Client) *Handler {
	t.Helper()
	timers := timer.NewService(logger.Default())
	timers.Start()
	t.Cleanup(timers.Stop)

	eng := engine.New(client, timers, nil, logger.Default())
	scenes := scene.NewManager(client)
	return NewHandler(eng, client, scenes, nil, logger.Default())
}

func TestHandler_InstallRule_DuplicateNameFails(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	h := newTestHandler(t, client)

	trigger := func(_ context.Context, _ *RuleUtilities) (condition.Condition, error) {
		return condition.NewStaticAttributeCondition(1, "switch", condition.OpEqual, "on"), nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error { return nil }

	require.NoError(t, h.InstallRule(context.Background(), "lights-on", trigger, action))
	err := h.InstallRule(context.Background(), "lights-on", trigger, action)
	assert.Error(t, err)

	require.NoError(t, h.UninstallRule("lights-on"))
}

func TestHandler_TriggerRule_ReArmsAfterFiring(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	h := newTestHandler(t, client)

	var fireCount int64
	trigger := func(_ context.Context, _ *RuleUtilities) (condition.Condition, error) {
		return condition.NewStaticAttributeCondition(1, "switch", condition.OpEqual, "on"), nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error {
		atomic.AddInt64(&fireCount, 1)
		return nil
	}

	require.NoError(t, h.InstallRule(context.Background(), "re-arm", trigger, action))
	defer h.UninstallRule("re-arm")

	eng := h.engine
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "on"})
	require.Eventually(t, func() bool { return atomic.LoadInt64(&fireCount) == 1 }, time.Second, 5*time.Millisecond)

	client.SetAttribute(1, "switch", "off")
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "off"})
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "on"})
	require.Eventually(t, func() bool { return atomic.LoadInt64(&fireCount) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandler_TriggerRule_ActionFailureDoesNotEndLoop(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	h := newTestHandler(t, client)

	var fireCount int64
	trigger := func(_ context.Context, _ *RuleUtilities) (condition.Condition, error) {
		return condition.NewStaticAttributeCondition(1, "switch", condition.OpEqual, "on"), nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error {
		atomic.AddInt64(&fireCount, 1)
		return errors.New("action blew up")
	}

	require.NoError(t, h.InstallRule(context.Background(), "flaky", trigger, action))
	defer h.UninstallRule("flaky")

	eng := h.engine
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "on"})
	require.Eventually(t, func() bool { return atomic.LoadInt64(&fireCount) == 1 }, time.Second, 5*time.Millisecond)

	client.SetAttribute(1, "switch", "off")
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "off"})
	eng.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "on"})
	require.Eventually(t, func() bool { return atomic.LoadInt64(&fireCount) == 2 }, time.Second, 5*time.Millisecond)

	assert.Contains(t, h.GetActiveRules(), "flaky")
}

func TestHandler_ScheduledRule_ActionFailureEndsRule(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	h := newTestHandler(t, client)

	var calls int64
	timeProvider := func(_ context.Context) (*time.Time, error) {
		if atomic.LoadInt64(&calls) > 0 {
			return nil, nil
		}
		atomic.AddInt64(&calls, 1)
		next := time.Now().Add(10 * time.Millisecond)
		return &next, nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error {
		return errors.New("nope")
	}

	require.NoError(t, h.InstallScheduledRule(context.Background(), "daily", timeProvider, action))

	require.Eventually(t, func() bool {
		for _, n := range h.GetActiveRules() {
			if n == "daily" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "scheduled rule should self-terminate after action failure")
}

func TestHandler_ScheduledRule_StaleProviderRetriesTwiceThenTerminates(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	h := newTestHandler(t, client)

	var calls int64
	var actionRan int64
	timeProvider := func(_ context.Context) (*time.Time, error) {
		n := atomic.AddInt64(&calls, 1)
		if n <= 3 {
			stale := time.Now().Add(-10 * time.Minute)
			return &stale, nil
		}
		future := time.Now().Add(time.Hour)
		return &future, nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error {
		atomic.AddInt64(&actionRan, 1)
		return nil
	}

	require.NoError(t, h.InstallScheduledRule(context.Background(), "stale", timeProvider, action))

	require.Eventually(t, func() bool {
		for _, n := range h.GetActiveRules() {
			if n == "stale" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "rule should terminate after the initial call plus two retries all come back stale")

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls), "should poll exactly once plus two retries, never a fourth time")
	assert.Equal(t, int64(0), atomic.LoadInt64(&actionRan), "action must never run once the rule has abandoned as stale")
}

func TestHandler_UninstallRule_CancelsTriggerLoop(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	h := newTestHandler(t, client)

	trigger := func(_ context.Context, _ *RuleUtilities) (condition.Condition, error) {
		return condition.NewStaticAttributeCondition(1, "switch", condition.OpEqual, "on"), nil
	}
	action := func(_ context.Context, _ *RuleUtilities) error { return nil }

	require.NoError(t, h.InstallRule(context.Background(), "cancel-me", trigger, action))
	require.NoError(t, h.UninstallRule("cancel-me"))

	assert.NotContains(t, h.GetActiveRules(), "cancel-me")
	assert.Error(t, h.UninstallRule("cancel-me"))
}
