package condition

import (
	"fmt"
	"sync"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// AttributeRef names a single device attribute.
type AttributeRef struct {
	DeviceID int
	Attr     string
}

// dynamicAttributeCondition fires when two device attributes compare true
// against each other. Unlike staticAttributeCondition, neither side is
// coerced to a literal's type: equality compares the values as reported, and
// ordering operators go through compareValues, which reads numeric strings
// as numbers.
type dynamicAttributeCondition struct {
	baseCondition

	left  AttributeRef
	right AttributeRef
	op    CompareOp

	mu         sync.Mutex
	leftValue  any
	rightValue any
}

// NewDynamicAttributeCondition builds a condition comparing two device
// attributes against each other.
func NewDynamicAttributeCondition(left AttributeRef, op CompareOp, right AttributeRef) Condition {
	return &dynamicAttributeCondition{
		baseCondition: newBase(fmt.Sprintf(
			"device(%d).%s %s device(%d).%s", left.DeviceID, left.Attr, op, right.DeviceID, right.Attr)),
		left:  left,
		right: right,
		op:    op,
	}
}

func (c *dynamicAttributeCondition) DeviceIDs() []int {
	if c.left.DeviceID == c.right.DeviceID {
		return []int{c.left.DeviceID}
	}
	return []int{c.left.DeviceID, c.right.DeviceID}
}

func (c *dynamicAttributeCondition) OnDeviceEvent(evt hubitat.DeviceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt.DeviceID == c.left.DeviceID && evt.Attribute == c.left.Attr {
		c.leftValue = evt.Value
	}
	if evt.DeviceID == c.right.DeviceID && evt.Attribute == c.right.Attr {
		c.rightValue = evt.Value
	}
}

func (c *dynamicAttributeCondition) Initialize(attrs map[int]map[string]any, _ map[string]bool) bool {
	c.mu.Lock()
	c.leftValue = attrs[c.left.DeviceID][c.left.Attr]
	c.rightValue = attrs[c.right.DeviceID][c.right.Attr]
	c.mu.Unlock()
	return c.Evaluate()
}

func (c *dynamicAttributeCondition) Evaluate() bool {
	c.mu.Lock()
	left, right := c.leftValue, c.rightValue
	c.mu.Unlock()
	return compareValues(left, right, c.op)
}
