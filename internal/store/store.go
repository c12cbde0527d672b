// Package store persists rules, scenes, and audit records. Two backends
// implement the same Store interface: sqlite for local/dev use and
// postgres for production, selected by config.DatabaseConfig.Driver.
package store

import (
	"context"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
)

// RuleRecord is the persisted form of an installed rule. TriggerCode and
// TimeProviderCode are mutually exclusive: a trigger-driven rule sets the
// former and leaves the latter nil, a scheduled rule does the reverse.
// The engine does not interpret these columns itself; see ActionCode.
type RuleRecord struct {
	Name             string    `db:"name" json:"name"`
	TriggerCode      *string   `db:"trigger_code" json:"trigger_code,omitempty"`
	TimeProviderCode *string   `db:"time_provider_code" json:"time_provider_code,omitempty"`
	ActionCode       string    `db:"action_code" json:"action_code"`
	Scheduled        bool      `db:"scheduled" json:"scheduled"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// SceneRecord is the persisted form of a scene. DeviceStates is the
// JSON-encoded []scene.DeviceStateRequirement, kept opaque to the store so
// it doesn't need to import the scene package's types.
type SceneRecord struct {
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	DeviceStates string    `db:"device_states" json:"device_states"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AuditFilter narrows a ListAuditLogs query. A zero-value field means
// "don't filter on this".
type AuditFilter struct {
	RuleName string
	SceneName string
	Since     time.Time
	Limit     int
}

// Store is the full persistence surface: rule and scene CRUD for startup
// reload, and the audit.Store sink the audit service writes through.
type Store interface {
	audit.Store

	SaveRule(ctx context.Context, r *RuleRecord) error
	GetRule(ctx context.Context, name string) (*RuleRecord, error)
	ListRules(ctx context.Context) ([]*RuleRecord, error)
	DeleteRule(ctx context.Context, name string) error

	SaveScene(ctx context.Context, s *SceneRecord) error
	GetScene(ctx context.Context, name string) (*SceneRecord, error)
	ListScenes(ctx context.Context) ([]*SceneRecord, error)
	DeleteScene(ctx context.Context, name string) error

	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*audit.Log, error)

	Close() error
}

// ErrNotFound is returned by Get* methods when no record matches.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: record not found" }
