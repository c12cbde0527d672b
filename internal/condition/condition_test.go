package condition

import (
	"testing"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAttributeCondition_NumericComparison(t *testing.T) {
	c := NewStaticAttributeCondition(1, "level", OpGreaterThan, 50.0)
	attrs := map[int]map[string]any{1: {"level": 75.0}}

	assert.True(t, c.Initialize(attrs, nil))

	c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "level", Value: 10.0})
	assert.False(t, c.Evaluate())
}

func TestStaticAttributeCondition_StringToBoolTruthy(t *testing.T) {
	c := NewStaticAttributeCondition(2, "switch", OpEqual, true)

	for _, v := range []string{"on", "Active", "OPEN", "1", "yes"} {
		c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 2, Attribute: "switch", Value: v})
		assert.True(t, c.Evaluate(), "expected %q to coerce truthy", v)
	}

	c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 2, Attribute: "switch", Value: "off"})
	assert.False(t, c.Evaluate())
}

func TestStaticAttributeCondition_CoercionFailureFallsBackToRaw(t *testing.T) {
	c := NewStaticAttributeCondition(3, "mode", OpEqual, 42)
	c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 3, Attribute: "mode", Value: "not-a-number"})
	assert.False(t, c.Evaluate())
}

func TestStaticAttributeCondition_OrderingAgainstNullIsFalse(t *testing.T) {
	c := NewStaticAttributeCondition(4, "level", OpGreaterThan, 10.0)
	assert.False(t, c.Initialize(map[int]map[string]any{}, nil))
}

func TestDynamicAttributeCondition_ComparesTwoDevices(t *testing.T) {
	c := NewDynamicAttributeCondition(
		AttributeRef{DeviceID: 1, Attr: "temperature"},
		OpGreaterThan,
		AttributeRef{DeviceID: 2, Attr: "setpoint"},
	)

	attrs := map[int]map[string]any{
		1: {"temperature": 72.0},
		2: {"setpoint": 68.0},
	}
	assert.True(t, c.Initialize(attrs, nil))

	c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 2, Attribute: "setpoint", Value: 80.0})
	assert.False(t, c.Evaluate())
}

func TestAttributeChangeCondition_InitialStateIsFalse(t *testing.T) {
	c := NewAttributeChangeCondition(1, "motion")
	assert.False(t, c.Initialize(map[int]map[string]any{1: {"motion": "inactive"}}, nil))
	assert.False(t, c.Evaluate())
}

func TestAttributeChangeCondition_FiresOnceOnChange(t *testing.T) {
	c := NewAttributeChangeCondition(1, "motion")
	c.Initialize(map[int]map[string]any{1: {"motion": "inactive"}}, nil)

	c.OnDeviceEvent(hubitat.DeviceEvent{DeviceID: 1, Attribute: "motion", Value: "active"})
	assert.True(t, c.Evaluate())
	assert.False(t, c.Evaluate(), "second evaluate without a new event must not refire")
}

func TestBooleanCondition_And(t *testing.T) {
	a := NewAttributeChangeCondition(1, "a")
	b := NewAttributeChangeCondition(2, "b")
	and := NewBooleanCondition([]Condition{a, b}, BoolAnd)

	states := map[string]bool{a.InstanceID(): true, b.InstanceID(): false}
	assert.False(t, and.Initialize(nil, states))

	and.OnConditionEvent(b, true)
	assert.True(t, and.Evaluate())
}

func TestBooleanCondition_Or(t *testing.T) {
	a := NewAttributeChangeCondition(1, "a")
	b := NewAttributeChangeCondition(2, "b")
	or := NewBooleanCondition([]Condition{a, b}, BoolOr)

	states := map[string]bool{a.InstanceID(): false, b.InstanceID(): false}
	assert.False(t, or.Initialize(nil, states))

	or.OnConditionEvent(a, true)
	assert.True(t, or.Evaluate())
}

func TestBooleanCondition_NotRequiresSingleChild(t *testing.T) {
	a := NewAttributeChangeCondition(1, "a")
	b := NewAttributeChangeCondition(2, "b")

	assert.Panics(t, func() {
		NewBooleanCondition([]Condition{a, b}, BoolNot)
	})
}

func TestBooleanCondition_Not(t *testing.T) {
	a := NewAttributeChangeCondition(1, "a")
	not := NewBooleanCondition([]Condition{a}, BoolNot)

	assert.True(t, not.Initialize(nil, map[string]bool{a.InstanceID(): false}))

	not.OnConditionEvent(a, true)
	assert.False(t, not.Evaluate())
}

func TestSceneChangeCondition_FiresOnEitherTransition(t *testing.T) {
	underlying := NewAttributeChangeCondition(1, "state")
	sc := NewSceneChangeCondition("evening", underlying)

	require.False(t, sc.Initialize(nil, map[string]bool{underlying.InstanceID(): false}))

	sc.OnConditionEvent(underlying, true)
	assert.True(t, sc.Evaluate(), "transition false->true must fire")
	assert.False(t, sc.Evaluate(), "repeated evaluate without a new transition must not refire")

	sc.OnConditionEvent(underlying, false)
	assert.True(t, sc.Evaluate(), "transition true->false must also fire")
}

func TestAlwaysFalseCondition_NeverFires(t *testing.T) {
	c := NewAlwaysFalseCondition("scene not found")
	assert.False(t, c.Initialize(nil, nil))
	assert.False(t, c.Evaluate())
}

func TestInstanceIDsAreDistinctForIdenticalConditions(t *testing.T) {
	a := NewStaticAttributeCondition(1, "level", OpEqual, 50)
	b := NewStaticAttributeCondition(1, "level", OpEqual, 50)

	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
}
