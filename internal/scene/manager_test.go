package scene

import (
	"context"
	"errors"
	"testing"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evening() Scene {
	return Scene{
		Name:        "evening",
		Description: "dim the living room",
		DeviceStates: []DeviceStateRequirement{
			{DeviceID: 1, Attribute: "switch", Value: "on", Command: "on"},
			{DeviceID: 2, Attribute: "level", Value: 30, Command: "setLevel", Arguments: []any{30}},
		},
	}
}

func TestManager_CreateScene_DuplicateNameFails(t *testing.T) {
	m := NewManager(hubitat.NewMockClient(nil))
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	_, err = m.CreateScene(evening())
	assert.Error(t, err)
}

func TestManager_SetScene_AppliesAllCommands(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	m := NewManager(client)
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	result, err := m.SetScene(context.Background(), "evening")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.FailedCommands)
	assert.Len(t, client.Commands, 2)
}

func TestManager_SetScene_CollectsPartialFailures(t *testing.T) {
	client := hubitat.NewMockClient(nil)
	client.SetSendError(errors.New("hub unreachable"))
	m := NewManager(client)
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	result, err := m.SetScene(context.Background(), "evening")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.FailedCommands, 2)
}

func TestManager_IsSceneSet_MatchesCurrentAttributes(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{
		1: {"switch": "on"},
		2: {"level": 30},
	})
	m := NewManager(client)
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	set, err := m.IsSceneSet(context.Background(), "evening")
	require.NoError(t, err)
	assert.True(t, set)

	client.SetAttribute(2, "level", 50)
	set, err = m.IsSceneSet(context.Background(), "evening")
	require.NoError(t, err)
	assert.False(t, set)
}

func TestManager_DeleteScene_RemovesDeviceIndex(t *testing.T) {
	m := NewManager(hubitat.NewMockClient(nil))
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	_, err = m.DeleteScene("evening")
	require.NoError(t, err)

	scenes, err := m.GetScenes(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Empty(t, scenes)

	_, err = m.DeleteScene("evening")
	assert.Error(t, err)
}

func TestManager_GetScenes_ByDeviceID(t *testing.T) {
	client := hubitat.NewMockClient(map[int]map[string]any{
		1: {"switch": "on"},
		2: {"level": 30},
	})
	m := NewManager(client)
	_, err := m.CreateScene(evening())
	require.NoError(t, err)

	scenes, err := m.GetScenes(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "evening", scenes[0].Name)
	assert.True(t, scenes[0].IsSet)
}
