package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/config"
)

// PostgresStore is the production Store backend, backed by a pgx
// connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool per cfg, verifies it with a
// ping, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		name TEXT PRIMARY KEY,
		trigger_code TEXT,
		time_provider_code TEXT,
		action_code TEXT NOT NULL,
		scheduled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scenes (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		device_states TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		event_subtype TEXT NOT NULL,
		rule_name TEXT,
		scene_name TEXT,
		condition_id TEXT,
		device_id INTEGER,
		success BOOLEAN,
		error_message TEXT,
		execution_time_ms BIGINT,
		context_data TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_rule_name ON audit_logs(rule_name);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_scene_name ON audit_logs(scene_name);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRule(ctx context.Context, r *RuleRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rules (name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			trigger_code = excluded.trigger_code,
			time_provider_code = excluded.time_provider_code,
			action_code = excluded.action_code,
			scheduled = excluded.scheduled,
			updated_at = excluded.updated_at
	`, r.Name, r.TriggerCode, r.TimeProviderCode, r.ActionCode, r.Scheduled, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PostgresStore) GetRule(ctx context.Context, name string) (*RuleRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at
		FROM rules WHERE name = $1
	`, name)
	r := &RuleRecord{}
	if err := row.Scan(&r.Name, &r.TriggerCode, &r.TimeProviderCode, &r.ActionCode,
		&r.Scheduled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]*RuleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, trigger_code, time_provider_code, action_code, scheduled, created_at, updated_at
		FROM rules ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RuleRecord
	for rows.Next() {
		r := &RuleRecord{}
		if err := rows.Scan(&r.Name, &r.TriggerCode, &r.TimeProviderCode, &r.ActionCode,
			&r.Scheduled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRule(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) SaveScene(ctx context.Context, sc *SceneRecord) error {
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scenes (name, description, device_states, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			device_states = excluded.device_states,
			updated_at = excluded.updated_at
	`, sc.Name, sc.Description, sc.DeviceStates, sc.CreatedAt, sc.UpdatedAt)
	return err
}

func (s *PostgresStore) GetScene(ctx context.Context, name string) (*SceneRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, description, device_states, created_at, updated_at
		FROM scenes WHERE name = $1
	`, name)
	sc := &SceneRecord{}
	if err := row.Scan(&sc.Name, &sc.Description, &sc.DeviceStates, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sc, nil
}

func (s *PostgresStore) ListScenes(ctx context.Context) ([]*SceneRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, description, device_states, created_at, updated_at
		FROM scenes ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SceneRecord
	for rows.Next() {
		sc := &SceneRecord{}
		if err := rows.Scan(&sc.Name, &sc.Description, &sc.DeviceStates, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteScene(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scenes WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) InsertAuditLog(ctx context.Context, log *audit.Log) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, timestamp, event_type, event_subtype, rule_name, scene_name,
			condition_id, device_id, success, error_message, execution_time_ms, context_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, log.ID, log.Timestamp, log.EventType, log.EventSubtype, log.RuleName, log.SceneName,
		log.ConditionID, log.DeviceID, log.Success, log.ErrorMessage, log.ExecutionTimeMs, log.ContextData)
	return err
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*audit.Log, error) {
	query := `SELECT id, timestamp, event_type, event_subtype, rule_name, scene_name,
		condition_id, device_id, success, error_message, execution_time_ms, context_data
		FROM audit_logs WHERE TRUE`
	var args []any
	argN := 1
	if filter.RuleName != "" {
		query += fmt.Sprintf(` AND rule_name = $%d`, argN)
		args = append(args, filter.RuleName)
		argN++
	}
	if filter.SceneName != "" {
		query += fmt.Sprintf(` AND scene_name = $%d`, argN)
		args = append(args, filter.SceneName)
		argN++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND timestamp >= $%d`, argN)
		args = append(args, filter.Since)
		argN++
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Log
	for rows.Next() {
		entry := &audit.Log{}
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.EventType, &entry.EventSubtype,
			&entry.RuleName, &entry.SceneName, &entry.ConditionID, &entry.DeviceID,
			&entry.Success, &entry.ErrorMessage, &entry.ExecutionTimeMs, &entry.ContextData); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
