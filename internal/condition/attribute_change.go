package condition

import (
	"fmt"
	"sync"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// attributeChangeCondition fires exactly once whenever a device attribute
// differs from the last value it was seen at. Initialize seeds both the
// previous and current value to the same initial reading, so the condition
// starts false even if the engine's first evaluation happens well after the
// attribute last actually changed.
type attributeChangeCondition struct {
	baseCondition

	deviceID int
	attr     string

	mu       sync.Mutex
	previous any
	current  any
}

// NewAttributeChangeCondition builds a condition that fires once whenever
// the named attribute differs from its last-seen value.
func NewAttributeChangeCondition(deviceID int, attr string) Condition {
	return &attributeChangeCondition{
		baseCondition: newBase(fmt.Sprintf("device(%d).%s changed", deviceID, attr)),
		deviceID:      deviceID,
		attr:          attr,
	}
}

func (c *attributeChangeCondition) DeviceIDs() []int { return []int{c.deviceID} }

func (c *attributeChangeCondition) OnDeviceEvent(evt hubitat.DeviceEvent) {
	if evt.DeviceID != c.deviceID || evt.Attribute != c.attr {
		return
	}
	c.mu.Lock()
	c.current = evt.Value
	c.mu.Unlock()
}

func (c *attributeChangeCondition) Initialize(attrs map[int]map[string]any, _ map[string]bool) bool {
	initial := attrs[c.deviceID][c.attr]
	c.mu.Lock()
	c.previous = initial
	c.current = initial
	c.mu.Unlock()
	return false
}

func (c *attributeChangeCondition) Evaluate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !valuesEqual(c.previous, c.current)
	if changed {
		c.previous = c.current
	}
	return changed
}
