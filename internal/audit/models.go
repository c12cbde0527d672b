// Package audit implements the non-blocking audit trail: lifecycle,
// execution, and control events recorded as rules run and conditions fire.
package audit

import "time"

// EventType groups related event subtypes.
type EventType string

const (
	EventTypeRuleLifecycle      EventType = "RULE_LIFECYCLE"
	EventTypeExecutionLifecycle EventType = "EXECUTION_LIFECYCLE"
	EventTypeDeviceControl      EventType = "DEVICE_CONTROL"
	EventTypeSceneLifecycle     EventType = "SCENE_LIFECYCLE"
)

// EventSubtype is the specific kind of audit event.
type EventSubtype string

const (
	SubtypeRuleCreated EventSubtype = "RULE_CREATED"
	SubtypeRuleLoaded  EventSubtype = "RULE_LOADED"
	SubtypeRuleDeleted EventSubtype = "RULE_DELETED"

	SubtypeConditionNowTrue  EventSubtype = "CONDITION_NOW_TRUE"
	SubtypeConditionEvaluated EventSubtype = "CONDITION_EVALUATED"
	SubtypeConditionTimeout  EventSubtype = "CONDITION_TIMEOUT"

	SubtypeTriggerFired        EventSubtype = "TRIGGER_FIRED"
	SubtypeRuleActionStarted   EventSubtype = "RULE_ACTION_STARTED"
	SubtypeRuleActionCompleted EventSubtype = "RULE_ACTION_COMPLETED"
	SubtypeRuleActionFailed    EventSubtype = "RULE_ACTION_FAILED"

	SubtypeDeviceCommand EventSubtype = "DEVICE_COMMAND"

	SubtypeSceneCreated EventSubtype = "SCENE_CREATED"
	SubtypeSceneDeleted EventSubtype = "SCENE_DELETED"
	SubtypeSceneApplied EventSubtype = "SCENE_APPLIED"
)

// Log is a single audit record. ContextData is a JSON-encoded string so the
// persistence layer can store it in a single text column regardless of
// backend.
type Log struct {
	ID              string       `db:"id" json:"id"`
	Timestamp       time.Time    `db:"timestamp" json:"timestamp"`
	EventType       EventType    `db:"event_type" json:"event_type"`
	EventSubtype    EventSubtype `db:"event_subtype" json:"event_subtype"`
	RuleName        *string      `db:"rule_name" json:"rule_name,omitempty"`
	SceneName       *string      `db:"scene_name" json:"scene_name,omitempty"`
	ConditionID     *string      `db:"condition_id" json:"condition_id,omitempty"`
	DeviceID        *int         `db:"device_id" json:"device_id,omitempty"`
	Success         *bool        `db:"success" json:"success,omitempty"`
	ErrorMessage    *string      `db:"error_message" json:"error_message,omitempty"`
	ExecutionTimeMs *int64       `db:"execution_time_ms" json:"execution_time_ms,omitempty"`
	ContextData     *string      `db:"context_data" json:"context_data,omitempty"`
}
