package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// truthyStrings is the set of string attribute values treated as boolean
// true when coerced against a bool literal.
var truthyStrings = map[string]struct{}{
	"true": {}, "1": {}, "yes": {}, "on": {}, "active": {}, "open": {},
}

// staticAttributeCondition fires when a single device attribute compares
// true against a fixed literal.
type staticAttributeCondition struct {
	baseCondition

	deviceID int
	attr     string
	op       CompareOp
	literal  any

	mu      sync.Mutex
	current any
}

// NewStaticAttributeCondition builds a condition comparing a device
// attribute's current value against a fixed literal.
func NewStaticAttributeCondition(deviceID int, attr string, op CompareOp, literal any) Condition {
	return &staticAttributeCondition{
		baseCondition: newBase(fmt.Sprintf("device(%d).%s %s %v", deviceID, attr, op, literal)),
		deviceID:      deviceID,
		attr:          attr,
		op:            op,
		literal:       literal,
	}
}

func (c *staticAttributeCondition) DeviceIDs() []int { return []int{c.deviceID} }

func (c *staticAttributeCondition) OnDeviceEvent(evt hubitat.DeviceEvent) {
	if evt.DeviceID != c.deviceID || evt.Attribute != c.attr {
		return
	}
	c.mu.Lock()
	c.current = evt.Value
	c.mu.Unlock()
}

func (c *staticAttributeCondition) Initialize(attrs map[int]map[string]any, _ map[string]bool) bool {
	c.mu.Lock()
	c.current = attrs[c.deviceID][c.attr]
	c.mu.Unlock()
	return c.Evaluate()
}

func (c *staticAttributeCondition) Evaluate() bool {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	coerced := coerceValue(c.literal, current)
	return compareValues(coerced, c.literal, c.op)
}

// coerceValue converts incoming into the type of literal so comparisons are
// well-typed. Values that cannot be coerced are returned unchanged so the
// comparison falls back to raw equality/ordering.
func coerceValue(literal, incoming any) any {
	if incoming == nil {
		return nil
	}
	switch lit := literal.(type) {
	case bool:
		switch v := incoming.(type) {
		case bool:
			return v
		case string:
			_, ok := truthyStrings[strings.ToLower(v)]
			return ok
		default:
			if f, ok := toFloat(v); ok {
				return f != 0
			}
			return incoming
		}
	case int:
		switch v := incoming.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case bool:
			if v {
				return 1
			}
			return 0
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			return incoming
		default:
			return incoming
		}
	case float64:
		if f, ok := toFloat(incoming); ok {
			return f
		}
		return incoming
	case string:
		if s, ok := incoming.(string); ok {
			return s
		}
		_ = lit
		return fmt.Sprintf("%v", incoming)
	default:
		return incoming
	}
}

// toFloat attempts a numeric coercion of v, reporting whether it succeeded.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// valuesEqual compares two dynamically-typed values without risking a panic
// on non-comparable types.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// compareValues applies op to left and right. Ordering operators against a
// nil side always evaluate false.
func compareValues(left, right any, op CompareOp) bool {
	switch op {
	case OpEqual:
		return valuesEqual(left, right)
	case OpNotEqual:
		return !valuesEqual(left, right)
	}

	if left == nil || right == nil {
		return false
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case OpGreaterThan:
			return lf > rf
		case OpGreaterEqual:
			return lf >= rf
		case OpLessThan:
			return lf < rf
		case OpLessEqual:
			return lf <= rf
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case OpGreaterThan:
			return ls > rs
		case OpGreaterEqual:
			return ls >= rs
		case OpLessThan:
			return ls < rs
		case OpLessEqual:
			return ls <= rs
		}
	}

	return false
}
