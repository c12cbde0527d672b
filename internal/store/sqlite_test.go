package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveAndGetRule(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	trigger := "switch_on"
	require.NoError(t, s.SaveRule(ctx, &RuleRecord{
		Name:        "lights-on",
		TriggerCode: &trigger,
		ActionCode:  "turn_on_lights",
	}))

	got, err := s.GetRule(ctx, "lights-on")
	require.NoError(t, err)
	assert.Equal(t, "lights-on", got.Name)
	assert.Equal(t, "switch_on", *got.TriggerCode)
	assert.False(t, got.Scheduled)
}

func TestSQLiteStore_SaveRule_UpsertsOnConflict(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, &RuleRecord{Name: "daily", ActionCode: "v1", Scheduled: true}))
	require.NoError(t, s.SaveRule(ctx, &RuleRecord{Name: "daily", ActionCode: "v2", Scheduled: true}))

	got, err := s.GetRule(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ActionCode)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_GetRule_MissingReturnsNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.GetRule(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteRule(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, &RuleRecord{Name: "temp", ActionCode: "noop"}))
	require.NoError(t, s.DeleteRule(ctx, "temp"))

	_, err := s.GetRule(ctx, "temp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SceneRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScene(ctx, &SceneRecord{
		Name:         "movie",
		Description:  "dim the lights",
		DeviceStates: `[{"device_id":1,"attribute":"switch","value":"on"}]`,
	}))

	got, err := s.GetScene(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, "dim the lights", got.Description)

	all, err := s.ListScenes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteScene(ctx, "movie"))
	_, err = s.GetScene(ctx, "movie")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AuditLog_InsertAndFilter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ruleName := "lights-on"
	require.NoError(t, s.InsertAuditLog(ctx, &audit.Log{
		ID:           "1",
		EventType:    audit.EventTypeRuleLifecycle,
		EventSubtype: audit.SubtypeRuleCreated,
		RuleName:     &ruleName,
	}))
	require.NoError(t, s.InsertAuditLog(ctx, &audit.Log{
		ID:           "2",
		EventType:    audit.EventTypeRuleLifecycle,
		EventSubtype: audit.SubtypeRuleDeleted,
	}))

	filtered, err := s.ListAuditLogs(ctx, AuditFilter{RuleName: "lights-on"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "1", filtered[0].ID)

	all, err := s.ListAuditLogs(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
