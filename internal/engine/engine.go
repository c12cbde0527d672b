// Package engine implements the RuleEngine: the reactive condition graph
// that tracks live conditions, propagates device-driven state changes
// through dependency edges, and honors per-condition timeout/duration
// semantics.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/timer"
)

// State is a condition's tri-state engine-observed value. DURATION_PENDING
// must appear false to every external observer, including parent
// conditions evaluating their own predicates.
type State int

const (
	StateFalse State = iota
	StateDurationPending
	StateTrue
)

func (s State) observedTrue() bool { return s == StateTrue }

type trackedCondition struct {
	notifier *Notifier
	state    State
}

// RuleEngine is the condition graph engine described in component design
// §4.3: a single lock-guarded registry of live conditions, reverse
// dependency edges for propagation, and a device-to-condition dispatch
// index.
type RuleEngine struct {
	client hubitat.Client
	timers *timer.Service
	audit  *audit.Service
	logger *logger.Logger

	mu                 sync.Mutex
	conditions         map[string]*trackedCondition   // instance_id -> tracked condition
	conditionDeps      map[string]map[string]struct{} // child instance_id -> parent instance_ids
	deviceToConditions map[int]map[string]struct{}    // device_id -> instance_ids
}

// New constructs a RuleEngine. auditSvc may be nil in tests that don't care
// about the audit trail.
func New(client hubitat.Client, timers *timer.Service, auditSvc *audit.Service, log *logger.Logger) *RuleEngine {
	return &RuleEngine{
		client:             client,
		timers:             timers,
		audit:              auditSvc,
		logger:             log,
		conditions:         make(map[string]*trackedCondition),
		conditionDeps:      make(map[string]map[string]struct{}),
		deviceToConditions: make(map[int]map[string]struct{}),
	}
}

func timeoutTimerID(instanceID string) string  { return fmt.Sprintf("condition_timeout(%s)", instanceID) }
func durationTimerID(instanceID string) string { return fmt.Sprintf("condition_duration(%s)", instanceID) }

////////////////////
// PUBLIC INTERFACE
////////////////////

// AddCondition registers cond (and transitively its subconditions), fetches
// initial device attribute state, and returns a Notifier the caller selects
// on for the fire/timeout signals.
func (e *RuleEngine) AddCondition(ctx context.Context, cond condition.Condition) (*Notifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	notifier := newNotifier(cond)
	if err := e.addConditionLocked(ctx, notifier); err != nil {
		return nil, err
	}
	return notifier, nil
}

// RemoveCondition removes cond and, recursively, any descendants left with
// no remaining dependents. Idempotent.
func (e *RuleEngine) RemoveCondition(cond condition.Condition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeConditionLocked(cond)
}

// OnDeviceEvent is the dispatch entry point: every tracked condition for
// the event's device is notified before any propagation occurs.
func (e *RuleEngine) OnDeviceEvent(evt hubitat.DeviceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, ok := e.deviceToConditions[evt.DeviceID]
	if !ok {
		return
	}

	impacted := make([]*trackedCondition, 0, len(ids))
	for id := range ids {
		if tc, ok := e.conditions[id]; ok {
			impacted = append(impacted, tc)
		}
	}
	for _, tc := range impacted {
		tc.notifier.cond.OnDeviceEvent(evt)
	}

	e.processConditionChangeLocked(impacted)
}

// GetConditionState reports whether cond is observably TRUE. Unknown
// conditions (removed / timed out) and DURATION_PENDING both report false.
func (e *RuleEngine) GetConditionState(cond condition.Condition) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tc, ok := e.conditions[cond.InstanceID()]
	if !ok {
		return false
	}
	return tc.state.observedTrue()
}

///////////
// REACTORS
///////////

func (e *RuleEngine) onConditionTimeout(notifier *Notifier) timer.Callback {
	return func(_ string) {
		e.mu.Lock()
		e.removeConditionLocked(notifier.cond)
		e.mu.Unlock()

		e.auditCondition(audit.SubtypeConditionTimeout, notifier.cond)
		notifier.notifyTimeout()
	}
}

func (e *RuleEngine) onDurationComplete(notifier *Notifier) timer.Callback {
	return func(_ string) {
		cond := notifier.cond
		e.auditCondition(audit.SubtypeConditionNowTrue, cond)

		e.mu.Lock()
		tc, ok := e.conditions[cond.InstanceID()]
		if ok && tc.state == StateDurationPending {
			e.timers.CancelTimer(timeoutTimerID(cond.InstanceID()))
			tc.state = StateTrue

			var parents []*trackedCondition
			for parentID := range e.conditionDeps[cond.InstanceID()] {
				parentTC, ok := e.conditions[parentID]
				if !ok {
					continue
				}
				parentTC.notifier.cond.OnConditionEvent(cond, true)
				parents = append(parents, parentTC)
			}
			e.processConditionChangeLocked(parents)

			if !e.hasDependentsLocked(cond.InstanceID()) {
				e.removeConditionLocked(cond)
			}
		}
		e.mu.Unlock()

		notifier.notify()
	}
}

////////////////
// STATE UPDATES
////////////////

// propagateLocked walks the reverse-dependency graph breadth-first,
// deliberately without de-duping visited nodes: every edge is walked once
// per event so each parent gets exactly one OnConditionEvent per changed
// child. Returns the set of conditions whose evaluation was (re)computed.
func (e *RuleEngine) propagateLocked(frontier []*trackedCondition) []*trackedCondition {
	queue := append([]*trackedCondition(nil), frontier...)
	touchedIDs := make(map[string]struct{})

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		cond := current.notifier.cond
		id := cond.InstanceID()
		touchedIDs[id] = struct{}{}

		tc, ok := e.conditions[id]
		if !ok {
			// Removed mid-propagation (e.g. raced with a timeout).
			continue
		}

		newTrue := e.safeEvaluate(cond)
		newState := StateFalse
		if newTrue {
			if cond.Duration() != nil {
				newState = StateDurationPending
			} else {
				newState = StateTrue
			}
		}

		if newState != tc.state {
			tc.state = newState
			e.auditCondition(audit.SubtypeConditionEvaluated, cond)
		}

		for parentID := range e.conditionDeps[id] {
			parentTC, ok := e.conditions[parentID]
			if !ok {
				continue
			}
			parentTC.notifier.cond.OnConditionEvent(cond, newState.observedTrue())
			queue = append(queue, parentTC)
		}
	}

	touched := make([]*trackedCondition, 0, len(touchedIDs))
	for id := range touchedIDs {
		if tc, ok := e.conditions[id]; ok {
			touched = append(touched, tc)
		}
	}
	return touched
}

func (e *RuleEngine) safeEvaluate(cond condition.Condition) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked",
				zap.String("instance_id", cond.InstanceID()), zap.Any("panic", r))
			result = false
		}
	}()
	return cond.Evaluate()
}

func (e *RuleEngine) processConditionChangeLocked(impacted []*trackedCondition) {
	previous := make(map[string]State, len(e.conditions))
	for id, tc := range e.conditions {
		previous[id] = tc.state
	}

	touched := e.propagateLocked(impacted)

	for _, tc := range touched {
		cond := tc.notifier.cond
		prev, curr := previous[cond.InstanceID()], tc.state

		if (prev == StateTrue || prev == StateDurationPending) && curr == StateFalse && cond.Duration() != nil {
			e.timers.CancelTimer(durationTimerID(cond.InstanceID()))
			continue
		}

		if prev == StateFalse && curr == StateDurationPending {
			e.timers.StartTimer(durationTimerID(cond.InstanceID()), *cond.Duration(), e.onDurationComplete(tc.notifier))
			continue
		}

		if prev == StateFalse && curr == StateTrue {
			e.timers.CancelTimer(timeoutTimerID(cond.InstanceID()))
			if !e.hasDependentsLocked(cond.InstanceID()) {
				e.removeConditionLocked(cond)
			}
			tc.notifier.notify()
		}
	}
}

//////////
// TRACKING
//////////

func (e *RuleEngine) addConditionLocked(ctx context.Context, notifier *Notifier) error {
	cond := notifier.cond

	for _, id := range cond.DeviceIDs() {
		e.indexDevice(id, cond.InstanceID())
	}

	childStates, err := e.initializeSubconditionsLocked(ctx, cond)
	if err != nil {
		return err
	}

	attrs, err := e.fetchAttrsLocked(ctx, cond.DeviceIDs())
	if err != nil {
		return err
	}

	initialTrue := cond.Initialize(attrs, childStates)
	state := StateFalse
	switch {
	case initialTrue && cond.Duration() != nil:
		state = StateDurationPending
	case initialTrue:
		state = StateTrue
	}

	e.conditions[cond.InstanceID()] = &trackedCondition{notifier: notifier, state: state}

	if cond.Timeout() != nil {
		e.timers.StartTimer(timeoutTimerID(cond.InstanceID()), *cond.Timeout(), e.onConditionTimeout(notifier))
	}

	switch state {
	case StateDurationPending:
		e.timers.StartTimer(durationTimerID(cond.InstanceID()), *cond.Duration(), e.onDurationComplete(notifier))
	case StateTrue:
		e.timers.CancelTimer(timeoutTimerID(cond.InstanceID()))
		if !e.hasDependentsLocked(cond.InstanceID()) {
			e.removeConditionLocked(cond)
		}
		notifier.notify()
	}
	return nil
}

func (e *RuleEngine) removeConditionLocked(cond condition.Condition) {
	e.timers.CancelTimer(timeoutTimerID(cond.InstanceID()))
	e.timers.CancelTimer(durationTimerID(cond.InstanceID()))

	if _, ok := e.conditions[cond.InstanceID()]; !ok {
		return
	}
	delete(e.conditions, cond.InstanceID())

	for _, id := range cond.DeviceIDs() {
		if set, ok := e.deviceToConditions[id]; ok {
			delete(set, cond.InstanceID())
			if len(set) == 0 {
				delete(e.deviceToConditions, id)
			}
		}
	}

	delete(e.conditionDeps, cond.InstanceID())

	for _, sub := range cond.Subconditions() {
		if parents, ok := e.conditionDeps[sub.InstanceID()]; ok {
			delete(parents, cond.InstanceID())
			if len(parents) > 0 {
				continue
			}
			delete(e.conditionDeps, sub.InstanceID())
		}
		if _, tracked := e.conditions[sub.InstanceID()]; tracked {
			e.removeConditionLocked(sub)
		}
	}
}

//////////////////
// INITIALIZATION
//////////////////

func (e *RuleEngine) initializeSubconditionsLocked(ctx context.Context, cond condition.Condition) (map[string]bool, error) {
	states := make(map[string]bool)
	for _, sub := range cond.Subconditions() {
		if e.conditionDeps[sub.InstanceID()] == nil {
			e.conditionDeps[sub.InstanceID()] = make(map[string]struct{})
		}
		e.conditionDeps[sub.InstanceID()][cond.InstanceID()] = struct{}{}

		if _, tracked := e.conditions[sub.InstanceID()]; !tracked {
			if err := e.addConditionLocked(ctx, newNotifier(sub)); err != nil {
				return nil, err
			}
		}
		states[sub.InstanceID()] = e.conditions[sub.InstanceID()].state.observedTrue()
	}
	return states, nil
}

func (e *RuleEngine) fetchAttrsLocked(ctx context.Context, deviceIDs []int) (map[int]map[string]any, error) {
	if len(deviceIDs) == 0 {
		return map[int]map[string]any{}, nil
	}
	attrs, err := e.client.GetBulkAttributes(ctx, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch bulk attributes: %w", err)
	}
	return attrs, nil
}

func (e *RuleEngine) indexDevice(deviceID int, instanceID string) {
	if e.deviceToConditions[deviceID] == nil {
		e.deviceToConditions[deviceID] = make(map[string]struct{})
	}
	e.deviceToConditions[deviceID][instanceID] = struct{}{}
}

func (e *RuleEngine) hasDependentsLocked(instanceID string) bool {
	return len(e.conditionDeps[instanceID]) > 0
}

func (e *RuleEngine) auditCondition(subtype audit.EventSubtype, cond condition.Condition) {
	if e.audit == nil {
		return
	}
	e.audit.LogEvent(audit.EventTypeExecutionLifecycle, subtype, audit.WithConditionID(cond.InstanceID()))
}
