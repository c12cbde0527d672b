// Package rulehandler supervises running rules: the trigger-wait-act loop
// for event-driven rules, the sleep-until-act loop for scheduled rules, and
// the RuleUtilities surface rule authors write against to build conditions,
// read/command devices, and apply scenes.
package rulehandler

import (
	"context"
	"fmt"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
)

// Attribute is a handle to one device's named attribute. Comparisons build
// Condition values; which condition variant comes out depends on whether
// the other side is a literal or another Attribute.
type Attribute struct {
	deviceID int
	name     string
}

func (a Attribute) compare(other any, op condition.CompareOp) condition.Condition {
	if otherAttr, ok := other.(Attribute); ok {
		return condition.NewDynamicAttributeCondition(
			condition.AttributeRef{DeviceID: a.deviceID, Attr: a.name}, op,
			condition.AttributeRef{DeviceID: otherAttr.deviceID, Attr: otherAttr.name})
	}
	return condition.NewStaticAttributeCondition(a.deviceID, a.name, op, other)
}

// Equals builds a condition that holds when the attribute equals other (a
// literal, or another Attribute for a device-to-device comparison).
func (a Attribute) Equals(other any) condition.Condition { return a.compare(other, condition.OpEqual) }

// NotEquals builds a condition that holds when the attribute differs from other.
func (a Attribute) NotEquals(other any) condition.Condition {
	return a.compare(other, condition.OpNotEqual)
}

// GreaterThan builds a condition that holds when the attribute exceeds other.
func (a Attribute) GreaterThan(other any) condition.Condition {
	return a.compare(other, condition.OpGreaterThan)
}

// GreaterOrEqual builds a condition that holds when the attribute is at least other.
func (a Attribute) GreaterOrEqual(other any) condition.Condition {
	return a.compare(other, condition.OpGreaterEqual)
}

// LessThan builds a condition that holds when the attribute is below other.
func (a Attribute) LessThan(other any) condition.Condition {
	return a.compare(other, condition.OpLessThan)
}

// LessOrEqual builds a condition that holds when the attribute is at most other.
func (a Attribute) LessOrEqual(other any) condition.Condition {
	return a.compare(other, condition.OpLessEqual)
}

// Value fetches the attribute's current value from the hub.
func (a Attribute) Value(ctx context.Context, client hubitat.Client) (any, error) {
	attrs, err := client.GetAllAttributes(ctx, a.deviceID)
	if err != nil {
		return nil, err
	}
	return attrs[a.name], nil
}

// Command is a handle to one device's named command.
type Command struct {
	client   hubitat.Client
	deviceID int
	name     string
}

// Invoke sends the command to its device with the given arguments.
func (c Command) Invoke(ctx context.Context, args ...any) error {
	return c.client.SendCommand(ctx, c.deviceID, c.name, args...)
}

// Device is a handle to a hub device, resolving named members to
// Attribute or Command handles against the device's loaded capabilities.
type Device struct {
	id     int
	client hubitat.Client
	meta   *hubitat.Device
}

func loadDevice(ctx context.Context, id int, client hubitat.Client) (*Device, error) {
	meta, err := client.DeviceByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load device %d: %w", id, err)
	}
	return &Device{id: id, client: client, meta: meta}, nil
}

// Attr resolves a named attribute handle, failing if the device doesn't
// expose it.
func (d *Device) Attr(name string) (Attribute, error) {
	if !d.meta.HasAttribute(name) {
		return Attribute{}, fmt.Errorf("device %d has no attribute %q", d.id, name)
	}
	return Attribute{deviceID: d.id, name: name}, nil
}

// Cmd resolves a named command handle, failing if the device doesn't
// expose it.
func (d *Device) Cmd(name string) (Command, error) {
	if !d.meta.HasCommand(name) {
		return Command{}, fmt.Errorf("device %d has no command %q", d.id, name)
	}
	return Command{client: d.client, deviceID: d.id, name: name}, nil
}

// Scene is a handle to a named scene, resolving member states into a
// condition and forwarding apply/status checks to the scene manager.
type Scene struct {
	name    string
	manager *scene.Manager
}

// IsSet reports whether the scene's device states currently hold.
func (s Scene) IsSet(ctx context.Context) (bool, error) {
	return s.manager.IsSceneSet(ctx, s.name)
}

// Enable applies the scene's device commands.
func (s Scene) Enable(ctx context.Context) (*scene.SetResult, error) {
	return s.manager.SetScene(ctx, s.name)
}

// OnSet builds a condition that holds while the scene's device states all
// match. A scene with no members, or that doesn't exist, yields a
// condition that never holds.
func (s Scene) OnSet(ctx context.Context) (condition.Condition, error) {
	sc := s.manager.GetScene(s.name)
	if sc == nil {
		return condition.NewAlwaysFalseCondition(fmt.Sprintf("scene not found: %s", s.name)), nil
	}
	if len(sc.DeviceStates) == 0 {
		return condition.NewAlwaysFalseCondition(fmt.Sprintf("scene has no device states: %s", s.name)), nil
	}

	children := make([]condition.Condition, len(sc.DeviceStates))
	for i, req := range sc.DeviceStates {
		children[i] = condition.NewStaticAttributeCondition(req.DeviceID, req.Attribute, condition.OpEqual, req.Value)
	}
	return condition.NewBooleanCondition(children, condition.BoolAnd), nil
}

// OnChange builds a condition that holds the instant the scene transitions
// between set and not-set, in either direction.
func (s Scene) OnChange(ctx context.Context) (condition.Condition, error) {
	underlying, err := s.OnSet(ctx)
	if err != nil {
		return nil, err
	}
	return condition.NewSceneChangeCondition(s.name, underlying), nil
}

// RuleUtilities is the surface rule triggers and actions are written
// against: it builds Device/Scene handles and conditions, and exposes the
// wait/check primitives that suspend a rule's goroutine on engine state.
type RuleUtilities struct {
	engine *engine.RuleEngine
	client hubitat.Client
	scenes *scene.Manager
}

// NewRuleUtilities constructs a RuleUtilities bound to the given engine,
// device client, and scene manager.
func NewRuleUtilities(e *engine.RuleEngine, client hubitat.Client, scenes *scene.Manager) *RuleUtilities {
	return &RuleUtilities{engine: e, client: client, scenes: scenes}
}

// Device loads a device handle by id.
func (u *RuleUtilities) Device(ctx context.Context, id int) (*Device, error) {
	return loadDevice(ctx, id, u.client)
}

// Scene returns a handle to a named scene. The scene need not exist yet;
// operations against a missing scene fail or report not-set.
func (u *RuleUtilities) Scene(name string) Scene {
	return Scene{name: name, manager: u.scenes}
}

// AllOf builds a condition that holds only while every child holds.
func (u *RuleUtilities) AllOf(conditions ...condition.Condition) condition.Condition {
	return condition.NewBooleanCondition(conditions, condition.BoolAnd)
}

// AnyOf builds a condition that holds while any child holds.
func (u *RuleUtilities) AnyOf(conditions ...condition.Condition) condition.Condition {
	return condition.NewBooleanCondition(conditions, condition.BoolOr)
}

// IsNot builds a condition that holds exactly when c does not.
func (u *RuleUtilities) IsNot(c condition.Condition) condition.Condition {
	return condition.NewBooleanCondition([]condition.Condition{c}, condition.BoolNot)
}

// OnChange builds a condition that holds the instant the attribute's value
// changes from what it was on the previous evaluation.
func (u *RuleUtilities) OnChange(attr Attribute) condition.Condition {
	return condition.NewAttributeChangeCondition(attr.deviceID, attr.name)
}

// Wait suspends the calling goroutine for d, or until ctx is cancelled.
func (u *RuleUtilities) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntil suspends until the next occurrence of the given time of day
// (rolling to tomorrow if it has already passed today), or until ctx is
// cancelled.
func (u *RuleUtilities) WaitUntil(ctx context.Context, timeOfDay time.Time) error {
	now := time.Now()
	target := time.Date(now.Year(), now.Month(), now.Day(),
		timeOfDay.Hour(), timeOfDay.Minute(), timeOfDay.Second(), 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return u.Wait(ctx, time.Until(target))
}

// WaitFor registers cond and blocks until it fires, its optional timeout
// elapses, or ctx is cancelled. If forDuration is non-nil, cond.duration is
// set to it before registration (requires timeout, if given, to exceed it).
// Returns true if cond fired, false if it timed out.
func (u *RuleUtilities) WaitFor(
	ctx context.Context,
	cond condition.Condition,
	timeout *time.Duration,
	forDuration *time.Duration,
) (bool, error) {
	if timeout != nil && forDuration != nil && *timeout <= *forDuration {
		return false, fmt.Errorf("timeout (%s) must exceed duration (%s)", *timeout, *forDuration)
	}
	if forDuration != nil {
		cond.SetDuration(*forDuration)
	}
	return u.waitForCondition(ctx, cond, timeout)
}

// WaitForChange blocks until attr's value changes, an optional timeout
// elapses, or ctx is cancelled.
func (u *RuleUtilities) WaitForChange(ctx context.Context, attr Attribute, timeout *time.Duration) (bool, error) {
	cond := condition.NewAttributeChangeCondition(attr.deviceID, attr.name)
	return u.waitForCondition(ctx, cond, timeout)
}

// Check registers cond, reads its current truth value once, removes it,
// and returns the result. Useful for point-in-time checks inside an action
// without leaving the condition tracked.
func (u *RuleUtilities) Check(ctx context.Context, cond condition.Condition) (bool, error) {
	notifier, err := u.engine.AddCondition(ctx, cond)
	if err != nil {
		return false, err
	}
	// A condition that is already true when registered fires at once and is
	// dropped by the engine, so its fired signal is the answer in that case.
	var result bool
	select {
	case <-notifier.Fired():
		result = true
	default:
		result = u.engine.GetConditionState(cond)
	}
	u.engine.RemoveCondition(cond)
	return result, nil
}

func (u *RuleUtilities) waitForCondition(
	ctx context.Context,
	cond condition.Condition,
	timeout *time.Duration,
) (bool, error) {
	if timeout != nil {
		cond.SetTimeout(*timeout)
	}

	notifier, err := u.engine.AddCondition(ctx, cond)
	if err != nil {
		return false, err
	}

	select {
	case <-notifier.Fired():
		u.engine.RemoveCondition(cond)
		return true, nil
	case <-notifier.TimedOut():
		u.engine.RemoveCondition(cond)
		return false, nil
	case <-ctx.Done():
		u.engine.RemoveCondition(cond)
		return false, ctx.Err()
	}
}
