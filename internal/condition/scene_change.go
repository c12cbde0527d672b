package condition

import (
	"fmt"
	"sync"
)

// sceneChangeCondition wraps a composite condition (typically the "scene is
// set" condition built from a scene's device-state requirements) and fires
// on any transition of its truth value, in either direction.
type sceneChangeCondition struct {
	baseCondition

	sceneName string
	underlying Condition

	mu        sync.Mutex
	prevState bool
	latest    bool
}

// NewSceneChangeCondition builds a condition that fires whenever underlying
// transitions, regardless of direction.
func NewSceneChangeCondition(sceneName string, underlying Condition) Condition {
	return &sceneChangeCondition{
		baseCondition: newBase(fmt.Sprintf("scene(%s) changed", sceneName)),
		sceneName:     sceneName,
		underlying:    underlying,
	}
}

func (c *sceneChangeCondition) Subconditions() []Condition { return []Condition{c.underlying} }

func (c *sceneChangeCondition) OnConditionEvent(child Condition, newState bool) {
	if child.InstanceID() != c.underlying.InstanceID() {
		return
	}
	c.mu.Lock()
	c.latest = newState
	c.mu.Unlock()
}

func (c *sceneChangeCondition) Initialize(_ map[int]map[string]any, condStates map[string]bool) bool {
	initial := condStates[c.underlying.InstanceID()]
	c.mu.Lock()
	c.prevState = initial
	c.latest = initial
	c.mu.Unlock()
	return false
}

// Evaluate reports whether the underlying condition's most recently
// observed state differs from the value last observed here, then advances
// the observed value. This means Evaluate is not idempotent: it is only
// safe to call once per propagation step, which matches how the engine
// drives every condition.
func (c *sceneChangeCondition) Evaluate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.latest != c.prevState
	c.prevState = c.latest
	return changed
}
