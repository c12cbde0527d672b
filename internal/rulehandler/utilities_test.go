package rulehandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
	"github.com/marchese29/HubitatRulesMCP/internal/timer"
)

func newTestUtilities(t *testing.T, client *hubitat.MockClient) *RuleUtilities {
	t.Helper()
	timers := timer.NewService(logger.Default())
	timers.Start()
	t.Cleanup(timers.Stop)

	eng := engine.New(client, timers, nil, logger.Default())
	scenes := scene.NewManager(client)
	return NewRuleUtilities(eng, client, scenes)
}

func thermostat(id int) *hubitat.Device {
	return &hubitat.Device{
		ID:         id,
		Name:       "thermostat",
		Attributes: map[string]struct{}{"temperature": {}},
		Commands:   map[string]struct{}{"setHeatingSetpoint": {}},
	}
}

func TestRuleUtilities_Device_AttrBuildsCondition(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"temperature": 68}})
	client.SetDevice(thermostat(1))
	u := newTestUtilities(t, client)

	dev, err := u.Device(context.Background(), 1)
	require.NoError(t, err)

	attr, err := dev.Attr("temperature")
	require.NoError(t, err)

	cond := attr.GreaterThan(70)
	fired, err := u.Check(context.Background(), cond)
	require.NoError(t, err)
	assert.False(t, fired)

	client.SetAttribute(1, "temperature", 75)
	cond2 := attr.GreaterThan(70)
	fired, err = u.Check(context.Background(), cond2)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRuleUtilities_Device_UnknownAttributeFails(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"temperature": 68}})
	client.SetDevice(thermostat(1))
	u := newTestUtilities(t, client)

	dev, err := u.Device(context.Background(), 1)
	require.NoError(t, err)

	_, err = dev.Attr("humidity")
	assert.Error(t, err)

	_, err = dev.Cmd("off")
	assert.Error(t, err)
}

func TestRuleUtilities_WaitFor_FiresBeforeTimeout(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	u := newTestUtilities(t, client)

	cond := (Attribute{deviceID: 1, name: "switch"}).Equals("on")
	timeout := 200 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.SetAttribute(1, "switch", "on")
		u.engine.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "switch", Value: "on"})
	}()

	fired, err := u.WaitFor(context.Background(), cond, &timeout, nil)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRuleUtilities_WaitFor_TimesOutWithoutFiring(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	u := newTestUtilities(t, client)

	cond := (Attribute{deviceID: 1, name: "switch"}).Equals("on")
	timeout := 30 * time.Millisecond

	fired, err := u.WaitFor(context.Background(), cond, &timeout, nil)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestRuleUtilities_WaitFor_RejectsTimeoutNotExceedingDuration(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	u := newTestUtilities(t, client)

	cond := (Attribute{deviceID: 1, name: "switch"}).Equals("on")
	timeout := 50 * time.Millisecond
	duration := 50 * time.Millisecond

	_, err := u.WaitFor(context.Background(), cond, &timeout, &duration)
	assert.Error(t, err)
}

func TestRuleUtilities_Scene_OnSet_MissingSceneNeverFires(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	u := newTestUtilities(t, client)

	sc := u.Scene("nonexistent")
	cond, err := sc.OnSet(context.Background())
	require.NoError(t, err)

	fired, err := u.Check(context.Background(), cond)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestRuleUtilities_Scene_IsSetAndEnable(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{1: {"switch": "off"}})
	scenes := scene.NewManager(client)
	_, err := scenes.CreateScene(scene.Scene{
		Name: "movie",
		DeviceStates: []scene.DeviceStateRequirement{
			{DeviceID: 1, Attribute: "switch", Value: "on", Command: "on"},
		},
	})
	require.NoError(t, err)

	timers := timer.NewService(logger.Default())
	timers.Start()
	t.Cleanup(timers.Stop)
	eng := engine.New(client, timers, nil, logger.Default())
	u := NewRuleUtilities(eng, client, scenes)

	sc := u.Scene("movie")
	set, err := sc.IsSet(context.Background())
	require.NoError(t, err)
	assert.False(t, set)

	_, err = sc.Enable(context.Background())
	require.NoError(t, err)

	// The mock hub records commands without applying them; report the state
	// the "on" command produces, as a real hub would.
	client.SetAttribute(1, "switch", "on")

	set, err = sc.IsSet(context.Background())
	require.NoError(t, err)
	assert.True(t, set)
}

func TestRuleUtilities_AllOfAnyOfIsNot(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{
		1: {"motion": "inactive"},
		2: {"contact": "closed"},
	})
	u := newTestUtilities(t, client)

	a := (Attribute{deviceID: 1, name: "motion"}).Equals("active")
	b := (Attribute{deviceID: 2, name: "contact"}).Equals("open")

	and := u.AllOf(a, b)
	fired, err := u.Check(context.Background(), and)
	require.NoError(t, err)
	assert.False(t, fired)

	c := (Attribute{deviceID: 1, name: "motion"}).Equals("inactive")
	notC := u.IsNot(c)
	fired, err = u.Check(context.Background(), notC)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestRuleUtilities_WaitUntil_RollsToTomorrowWhenPast(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	u := newTestUtilities(t, client)

	past := time.Now().Add(-time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := u.WaitUntil(ctx, past)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
