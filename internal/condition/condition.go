// Package condition implements the tri-state condition nodes tracked by the
// rule engine's dependency graph: attribute comparisons, boolean combinators,
// scene-transition wrappers, and the degenerate always-false sink.
package condition

import (
	"time"

	"github.com/google/uuid"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// CompareOp is a comparison operator usable by attribute conditions.
type CompareOp string

const (
	OpEqual        CompareOp = "="
	OpNotEqual     CompareOp = "!="
	OpGreaterThan  CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
	OpLessThan     CompareOp = "<"
	OpLessEqual    CompareOp = "<="
)

// BoolOp is a boolean combinator operator.
type BoolOp string

const (
	BoolAnd BoolOp = "and"
	BoolOr  BoolOp = "or"
	BoolNot BoolOp = "not"
)

// Condition is a node in the engine's dependency graph. InstanceID is the
// node's true identity; two syntactically identical conditions built twice
// are distinct nodes with distinct instance ids. Identifier is a
// human-readable label used only for logging and audit context.
type Condition interface {
	InstanceID() string
	Identifier() string

	// DeviceIDs lists the devices whose events this condition needs
	// delivered to OnDeviceEvent. Leaf conditions return their own device
	// ids; composite conditions return none (they react via OnConditionEvent).
	DeviceIDs() []int

	// Subconditions lists the condition's direct children, if any. The
	// engine registers and tracks these as dependencies.
	Subconditions() []Condition

	Timeout() *time.Duration
	Duration() *time.Duration
	SetTimeout(d time.Duration)
	SetDuration(d time.Duration)

	// OnDeviceEvent updates any internal state the condition keeps from a
	// relevant device event. It does not itself decide truth; the engine
	// calls Evaluate afterward.
	OnDeviceEvent(evt hubitat.DeviceEvent)

	// OnConditionEvent updates any internal state kept about a child
	// condition's last-known truth value.
	OnConditionEvent(child Condition, newState bool)

	// Initialize seeds the condition's internal state from a bulk
	// attribute snapshot (keyed by device id) and the current states of
	// already-registered subconditions (keyed by instance id), then
	// returns the condition's initial truth value.
	Initialize(attrs map[int]map[string]any, condStates map[string]bool) bool

	// Evaluate computes the condition's current truth value from whatever
	// internal state OnDeviceEvent/OnConditionEvent have accumulated.
	Evaluate() bool
}

// baseCondition supplies default implementations shared by every concrete
// condition type. Concrete types embed it by value and override only the
// methods that need type-specific behavior.
type baseCondition struct {
	instanceID string
	identifier string
	timeout    *time.Duration
	duration   *time.Duration
}

func newBase(identifier string) baseCondition {
	return baseCondition{
		instanceID: uuid.New().String(),
		identifier: identifier,
	}
}

func (b *baseCondition) InstanceID() string { return b.instanceID }
func (b *baseCondition) Identifier() string { return b.identifier }

func (b *baseCondition) DeviceIDs() []int           { return nil }
func (b *baseCondition) Subconditions() []Condition { return nil }

func (b *baseCondition) Timeout() *time.Duration  { return b.timeout }
func (b *baseCondition) Duration() *time.Duration { return b.duration }

func (b *baseCondition) SetTimeout(d time.Duration)  { b.timeout = &d }
func (b *baseCondition) SetDuration(d time.Duration) { b.duration = &d }

func (b *baseCondition) OnDeviceEvent(_ hubitat.DeviceEvent)  {}
func (b *baseCondition) OnConditionEvent(_ Condition, _ bool) {}
