package rulehandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/condition"
	"github.com/marchese29/HubitatRulesMCP/internal/engine"
	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/marchese29/HubitatRulesMCP/internal/scene"
)

// maxScheduleRetries bounds how many times a scheduled rule's time provider
// is re-polled after returning a stale (non-future) time before the rule
// is abandoned, rather than spinning forever against a broken provider.
const maxScheduleRetries = 2

// TriggerProvider builds the condition a trigger rule re-arms on each time
// its loop restarts. Built fresh per iteration so it can depend on state an
// earlier action run changed.
type TriggerProvider func(ctx context.Context, utils *RuleUtilities) (condition.Condition, error)

// Action runs a rule's body once its trigger has fired (or, for scheduled
// rules, once its scheduled time has arrived).
type Action func(ctx context.Context, utils *RuleUtilities) error

// TimeProvider computes a scheduled rule's next run time. A nil time with a
// nil error means the rule has no more scheduled runs and should stop.
type TimeProvider func(ctx context.Context) (*time.Time, error)

type ruleState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Handler supervises the running set of trigger and scheduled rules,
// keyed by name. Each installed rule runs in its own goroutine for the
// lifetime of its supervisor loop.
type Handler struct {
	engine *engine.RuleEngine
	client hubitat.Client
	scenes *scene.Manager
	audit  *audit.Service
	logger *logger.Logger

	mu     sync.Mutex
	active map[string]*ruleState
}

// NewHandler constructs a Handler. auditSvc may be nil in contexts that
// don't care about the audit trail.
func NewHandler(e *engine.RuleEngine, client hubitat.Client, scenes *scene.Manager, auditSvc *audit.Service, log *logger.Logger) *Handler {
	return &Handler{
		engine: e,
		client: client,
		scenes: scenes,
		audit:  auditSvc,
		logger: log,
		active: make(map[string]*ruleState),
	}
}

// InstallRule installs a trigger-driven rule under name: trigger is rebuilt
// and awaited each time the loop restarts, and action runs every time it
// fires. Action failures are logged and do not end the rule; the loop
// immediately re-arms the trigger.
func (h *Handler) InstallRule(ctx context.Context, name string, trigger TriggerProvider, action Action) error {
	runCtx, state, err := h.register(ctx, name)
	if err != nil {
		return err
	}
	go func() {
		defer close(state.done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("rule supervisor panicked", zap.String("rule", name), zap.Any("panic", r))
			}
		}()
		h.runTriggerRule(runCtx, name, trigger, action)
	}()
	return nil
}

// InstallScheduledRule installs a time-driven rule under name: timeProvider
// computes the next run each iteration, and action runs once that time
// arrives. Unlike a trigger rule, an action failure ends the rule.
func (h *Handler) InstallScheduledRule(ctx context.Context, name string, timeProvider TimeProvider, action Action) error {
	runCtx, state, err := h.register(ctx, name)
	if err != nil {
		return err
	}
	go func() {
		defer close(state.done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("rule supervisor panicked", zap.String("rule", name), zap.Any("panic", r))
			}
			// A scheduled rule whose loop ends on its own is no longer active.
			h.mu.Lock()
			if h.active[name] == state {
				delete(h.active, name)
			}
			h.mu.Unlock()
		}()
		h.runScheduledRule(runCtx, name, timeProvider, action)
	}()
	return nil
}

// UninstallRule cancels and removes the named rule, waiting for its
// supervisor loop to exit before returning.
func (h *Handler) UninstallRule(name string) error {
	h.mu.Lock()
	state, ok := h.active[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("rule %q does not exist", name)
	}
	delete(h.active, name)
	h.mu.Unlock()

	state.cancel()
	<-state.done

	h.auditRule(audit.SubtypeRuleDeleted, name)
	return nil
}

// GetActiveRules returns the names of all currently installed rules.
func (h *Handler) GetActiveRules() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.active))
	for name := range h.active {
		names = append(names, name)
	}
	return names
}

func (h *Handler) register(ctx context.Context, name string) (context.Context, *ruleState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[name]; exists {
		return nil, nil, fmt.Errorf("rule %q already exists", name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	state := &ruleState{cancel: cancel, done: make(chan struct{})}
	h.active[name] = state
	h.auditRule(audit.SubtypeRuleCreated, name)

	return runCtx, state, nil
}

func (h *Handler) runTriggerRule(ctx context.Context, name string, trigger TriggerProvider, action Action) {
	utils := NewRuleUtilities(h.engine, h.client, h.scenes)

	for {
		cond, err := trigger(ctx, utils)
		if err != nil {
			h.logger.Error("trigger provider failed, abandoning rule",
				zap.String("rule", name), zap.Error(err))
			return
		}

		notifier, err := h.engine.AddCondition(ctx, cond)
		if err != nil {
			h.logger.Error("failed to register trigger condition, abandoning rule",
				zap.String("rule", name), zap.Error(err))
			return
		}

		select {
		case <-notifier.Fired():
		case <-ctx.Done():
			h.engine.RemoveCondition(cond)
			return
		}

		h.engine.RemoveCondition(cond)
		h.auditExecution(audit.SubtypeTriggerFired, name)

		h.runAction(ctx, name, action, utils, false)
	}
}

func (h *Handler) runScheduledRule(ctx context.Context, name string, timeProvider TimeProvider, action Action) {
	utils := NewRuleUtilities(h.engine, h.client, h.scenes)

	for {
		next, err := timeProvider(ctx)
		if err != nil {
			h.logger.Error("time provider failed, abandoning scheduled rule",
				zap.String("rule", name), zap.Error(err))
			return
		}
		if next == nil {
			return
		}

		attempts := 0
		for !next.After(time.Now()) && attempts < maxScheduleRetries {
			attempts++
			next, err = timeProvider(ctx)
			if err != nil {
				h.logger.Error("time provider failed, abandoning scheduled rule",
					zap.String("rule", name), zap.Error(err))
				return
			}
			if next == nil {
				return
			}
		}
		if !next.After(time.Now()) {
			h.logger.Warn("time provider kept returning stale times, abandoning scheduled rule",
				zap.String("rule", name))
			return
		}

		select {
		case <-time.After(time.Until(*next)):
		case <-ctx.Done():
			return
		}

		h.auditExecution(audit.SubtypeTriggerFired, name)

		if !h.runAction(ctx, name, action, utils, true) {
			return
		}
	}
}

// runAction runs action, recording start/completion/failure audit events.
// terminatesOnFailure controls the return value so scheduled-rule callers
// know to stop their loop.
func (h *Handler) runAction(ctx context.Context, name string, action Action, utils *RuleUtilities, terminatesOnFailure bool) bool {
	h.auditExecution(audit.SubtypeRuleActionStarted, name)
	start := time.Now()

	err := action(ctx, utils)

	if err != nil {
		h.logger.Error("rule action failed", zap.String("rule", name), zap.Error(err))
		if h.audit != nil {
			h.audit.LogEvent(audit.EventTypeExecutionLifecycle, audit.SubtypeRuleActionFailed,
				audit.WithRuleName(name), audit.WithSuccess(false), audit.WithError(err.Error()),
				audit.WithExecutionTime(time.Since(start)))
		}
		return !terminatesOnFailure
	}

	if h.audit != nil {
		h.audit.LogEvent(audit.EventTypeExecutionLifecycle, audit.SubtypeRuleActionCompleted,
			audit.WithRuleName(name), audit.WithSuccess(true), audit.WithExecutionTime(time.Since(start)))
	}
	return true
}

func (h *Handler) auditRule(subtype audit.EventSubtype, name string) {
	if h.audit == nil {
		return
	}
	h.audit.LogEvent(audit.EventTypeRuleLifecycle, subtype, audit.WithRuleName(name))
}

func (h *Handler) auditExecution(subtype audit.EventSubtype, name string) {
	if h.audit == nil {
		return
	}
	h.audit.LogEvent(audit.EventTypeExecutionLifecycle, subtype, audit.WithRuleName(name))
}
