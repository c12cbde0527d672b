package condition

import (
	"fmt"
	"strings"
	"sync"
)

// booleanCondition combines child conditions with and/or/not. Children are
// tracked by instance id; the engine is the source of truth for each
// child's last-known state, relayed in through OnConditionEvent. A
// DURATION_PENDING child is reported to this condition as false by the
// engine, per the tri-state visibility invariant.
type booleanCondition struct {
	baseCondition

	children []Condition
	op       BoolOp

	mu     sync.Mutex
	states map[string]bool
}

// NewBooleanCondition combines children with op. op=BoolNot requires
// exactly one child; constructing it with any other arity panics, mirroring
// a programming error rather than a runtime condition.
func NewBooleanCondition(children []Condition, op BoolOp) Condition {
	if op == BoolNot && len(children) != 1 {
		panic(fmt.Sprintf("boolean condition: not requires exactly one child, got %d", len(children)))
	}

	identifiers := make([]string, len(children))
	for i, child := range children {
		identifiers[i] = child.Identifier()
	}

	var identifier string
	if op == BoolNot {
		identifier = fmt.Sprintf("not(%s)", identifiers[0])
	} else {
		identifier = fmt.Sprintf("(%s)", strings.Join(identifiers, fmt.Sprintf(" %s ", op)))
	}

	return &booleanCondition{
		baseCondition: newBase(identifier),
		children:      children,
		op:            op,
		states:        make(map[string]bool, len(children)),
	}
}

func (c *booleanCondition) Subconditions() []Condition { return c.children }

func (c *booleanCondition) OnConditionEvent(child Condition, newState bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[child.InstanceID()] = newState
}

func (c *booleanCondition) Initialize(_ map[int]map[string]any, condStates map[string]bool) bool {
	c.mu.Lock()
	for _, child := range c.children {
		c.states[child.InstanceID()] = condStates[child.InstanceID()]
	}
	c.mu.Unlock()
	return c.Evaluate()
}

func (c *booleanCondition) Evaluate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.op {
	case BoolNot:
		return !c.states[c.children[0].InstanceID()]
	case BoolAnd:
		for _, child := range c.children {
			if !c.states[child.InstanceID()] {
				return false
			}
		}
		return true
	case BoolOr:
		for _, child := range c.children {
			if c.states[child.InstanceID()] {
				return true
			}
		}
		return false
	default:
		return false
	}
}
