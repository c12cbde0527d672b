package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
)

// SQLiteStore is the zero-dependency local/dev Store backend. It opens a
// single connection, matching the driver's lack of real concurrent-write
// support.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the sqlite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("prepare database path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		name TEXT PRIMARY KEY,
		trigger_code TEXT,
		time_provider_code TEXT,
		action_code TEXT NOT NULL,
		scheduled INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scenes (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		device_states TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		event_subtype TEXT NOT NULL,
		rule_name TEXT,
		scene_name TEXT,
		condition_id TEXT,
		device_id INTEGER,
		success INTEGER,
		error_message TEXT,
		execution_time_ms INTEGER,
		context_data TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_rule_name ON audit_logs(rule_name);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_scene_name ON audit_logs(scene_name);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// sqliteRuleRow mirrors RuleRecord but with an integer scheduled column,
// since sqlite has no native boolean type for sqlx to scan into.
type sqliteRuleRow struct {
	Name             string    `db:"name"`
	TriggerCode      *string   `db:"trigger_code"`
	TimeProviderCode *string   `db:"time_provider_code"`
	ActionCode       string    `db:"action_code"`
	Scheduled        int       `db:"scheduled"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (row sqliteRuleRow) toRecord() *RuleRecord {
	return &RuleRecord{
		Name:             row.Name,
		TriggerCode:      row.TriggerCode,
		TimeProviderCode: row.TimeProviderCode,
		ActionCode:       row.ActionCode,
		Scheduled:        row.Scheduled != 0,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func (s *SQLiteStore) SaveRule(ctx context.Context, r *RuleRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO rules (name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at)
		VALUES (:name, :trigger_code, :time_provider_code, :action_code, :scheduled, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			trigger_code = excluded.trigger_code,
			time_provider_code = excluded.time_provider_code,
			action_code = excluded.action_code,
			scheduled = excluded.scheduled,
			updated_at = excluded.updated_at
	`, sqliteRuleRow{
		Name: r.Name, TriggerCode: r.TriggerCode, TimeProviderCode: r.TimeProviderCode,
		ActionCode: r.ActionCode, Scheduled: boolToInt(r.Scheduled), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	})
	return err
}

func (s *SQLiteStore) GetRule(ctx context.Context, name string) (*RuleRecord, error) {
	var row sqliteRuleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at
		FROM rules WHERE name = ?
	`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toRecord(), nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]*RuleRecord, error) {
	var rows []sqliteRuleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at
		FROM rules ORDER BY name ASC
	`); err != nil {
		return nil, err
	}
	out := make([]*RuleRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE name = ?`, name)
	return err
}

func (s *SQLiteStore) SaveScene(ctx context.Context, sc *SceneRecord) error {
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scenes (name, description, device_states, created_at, updated_at)
		VALUES (:name, :description, :device_states, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			device_states = excluded.device_states,
			updated_at = excluded.updated_at
	`, sc)
	return err
}

func (s *SQLiteStore) GetScene(ctx context.Context, name string) (*SceneRecord, error) {
	var sc SceneRecord
	err := s.db.GetContext(ctx, &sc, `
		SELECT name, description, device_states, created_at, updated_at
		FROM scenes WHERE name = ?
	`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}

func (s *SQLiteStore) ListScenes(ctx context.Context) ([]*SceneRecord, error) {
	var out []*SceneRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT name, description, device_states, created_at, updated_at
		FROM scenes ORDER BY name ASC
	`)
	return out, err
}

func (s *SQLiteStore) DeleteScene(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE name = ?`, name)
	return err
}

// sqliteAuditRow mirrors audit.Log but with an integer success column.
type sqliteAuditRow struct {
	ID              string             `db:"id"`
	Timestamp       time.Time          `db:"timestamp"`
	EventType       audit.EventType    `db:"event_type"`
	EventSubtype    audit.EventSubtype `db:"event_subtype"`
	RuleName        *string            `db:"rule_name"`
	SceneName       *string            `db:"scene_name"`
	ConditionID     *string            `db:"condition_id"`
	DeviceID        *int               `db:"device_id"`
	Success         *int               `db:"success"`
	ErrorMessage    *string            `db:"error_message"`
	ExecutionTimeMs *int64             `db:"execution_time_ms"`
	ContextData     *string            `db:"context_data"`
}

func (row sqliteAuditRow) toLog() *audit.Log {
	log := &audit.Log{
		ID: row.ID, Timestamp: row.Timestamp, EventType: row.EventType, EventSubtype: row.EventSubtype,
		RuleName: row.RuleName, SceneName: row.SceneName, ConditionID: row.ConditionID, DeviceID: row.DeviceID,
		ErrorMessage: row.ErrorMessage, ExecutionTimeMs: row.ExecutionTimeMs, ContextData: row.ContextData,
	}
	if row.Success != nil {
		success := *row.Success != 0
		log.Success = &success
	}
	return log
}

func (s *SQLiteStore) InsertAuditLog(ctx context.Context, log *audit.Log) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, event_type, event_subtype, rule_name, scene_name,
			condition_id, device_id, success, error_message, execution_time_ms, context_data)
		VALUES (:id, :timestamp, :event_type, :event_subtype, :rule_name, :scene_name,
			:condition_id, :device_id, :success, :error_message, :execution_time_ms, :context_data)
	`, sqliteAuditRow{
		ID: log.ID, Timestamp: log.Timestamp, EventType: log.EventType, EventSubtype: log.EventSubtype,
		RuleName: log.RuleName, SceneName: log.SceneName, ConditionID: log.ConditionID, DeviceID: log.DeviceID,
		Success: nullableIntPtr(log.Success), ErrorMessage: log.ErrorMessage,
		ExecutionTimeMs: log.ExecutionTimeMs, ContextData: log.ContextData,
	})
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*audit.Log, error) {
	query := `SELECT id, timestamp, event_type, event_subtype, rule_name, scene_name,
		condition_id, device_id, success, error_message, execution_time_ms, context_data
		FROM audit_logs WHERE 1=1`
	var args []any
	if filter.RuleName != "" {
		query += ` AND rule_name = ?`
		args = append(args, filter.RuleName)
	}
	if filter.SceneName != "" {
		query += ` AND scene_name = ?`
		args = append(args, filter.SceneName)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var rows []sqliteAuditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*audit.Log, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toLog())
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableIntPtr(b *bool) *int {
	if b == nil {
		return nil
	}
	v := boolToInt(*b)
	return &v
}
