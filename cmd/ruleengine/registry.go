package main

import (
	"context"
	"fmt"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/rulehandler"
)

// ruleDefinition is a compiled-in rule: the trigger/action closures a named
// rule resolves to. A real deployment grows this map as rules are authored
// and redeployed; see "Rule compilation substitution" in DESIGN.md for
// why this is a static registry rather than runtime code evaluation.
type ruleDefinition struct {
	trigger   rulehandler.TriggerProvider
	action    rulehandler.Action
	scheduled bool
	schedule  rulehandler.TimeProvider
}

// ruleRegistry maps a persisted rule's name to its compiled definition.
type ruleRegistry map[string]ruleDefinition

// newRuleRegistry returns the set of rules this build of the engine knows
// how to install. Names here are expected to line up with RuleRecord.Name
// values persisted through the HTTP and MCP surfaces.
func newRuleRegistry() ruleRegistry {
	return ruleRegistry{
		"porch-light-at-dusk": {
			trigger: func(ctx context.Context, utils *rulehandler.RuleUtilities) (condition.Condition, error) {
				sensor, err := utils.Device(ctx, 1)
				if err != nil {
					return nil, err
				}
				illuminance, err := sensor.Attr("illuminance")
				if err != nil {
					return nil, err
				}
				return illuminance.LessThan(10), nil
			},
			action: func(ctx context.Context, utils *rulehandler.RuleUtilities) error {
				porchLight, err := utils.Device(ctx, 2)
				if err != nil {
					return err
				}
				on, err := porchLight.Cmd("on")
				if err != nil {
					return err
				}
				return on.Invoke(ctx)
			},
		},
		"goodnight-scene-on-door-lock": {
			trigger: func(ctx context.Context, utils *rulehandler.RuleUtilities) (condition.Condition, error) {
				door, err := utils.Device(ctx, 3)
				if err != nil {
					return nil, err
				}
				lock, err := door.Attr("lock")
				if err != nil {
					return nil, err
				}
				return lock.Equals("locked"), nil
			},
			action: func(ctx context.Context, utils *rulehandler.RuleUtilities) error {
				_, err := utils.Scene("goodnight").Enable(ctx)
				return err
			},
		},
		"nightly-thermostat-setback": {
			scheduled: true,
			schedule: func(ctx context.Context) (*time.Time, error) {
				now := time.Now()
				next := time.Date(now.Year(), now.Month(), now.Day(), 22, 0, 0, 0, now.Location())
				if !next.After(now) {
					next = next.Add(24 * time.Hour)
				}
				return &next, nil
			},
			action: func(ctx context.Context, utils *rulehandler.RuleUtilities) error {
				thermostat, err := utils.Device(ctx, 4)
				if err != nil {
					return err
				}
				setPoint, err := thermostat.Cmd("setHeatingSetpoint")
				if err != nil {
					return err
				}
				return setPoint.Invoke(ctx, 62)
			},
		},
	}
}

// installer returns the Install callback shared by the HTTP and MCP
// surfaces: it looks name up in reg and, if found, installs it against
// handler as either a trigger or scheduled rule.
func installer(handler *rulehandler.Handler, reg ruleRegistry) func(ctx context.Context, name string) error {
	return func(ctx context.Context, name string) error {
		def, ok := reg[name]
		if !ok {
			return fmt.Errorf("no compiled rule registered under name %q", name)
		}
		if def.scheduled {
			return handler.InstallScheduledRule(ctx, name, def.schedule, def.action)
		}
		return handler.InstallRule(ctx, name, def.trigger, def.action)
	}
}
