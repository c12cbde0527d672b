package condition

import "fmt"

// alwaysFalseCondition is a degenerate terminal sink: it never evaluates
// true. Useful as a safe placeholder when rule code builds a condition
// against state that turns out not to exist (e.g. an unknown scene name),
// rather than failing construction.
type alwaysFalseCondition struct {
	baseCondition
	reason string
}

// NewAlwaysFalseCondition builds a condition that never fires, recording
// reason for diagnostics.
func NewAlwaysFalseCondition(reason string) Condition {
	return &alwaysFalseCondition{
		baseCondition: newBase(fmt.Sprintf("always false: %s", reason)),
		reason:        reason,
	}
}

func (c *alwaysFalseCondition) Initialize(_ map[int]map[string]any, _ map[string]bool) bool {
	return false
}

func (c *alwaysFalseCondition) Evaluate() bool { return false }
