package scene

import (
	"context"
	"fmt"
	"sync"

	"github.com/marchese29/HubitatRulesMCP/internal/hubitat"
)

// Manager creates, tracks, applies, and queries scenes. All methods are
// safe for concurrent use.
type Manager struct {
	client hubitat.Client

	mu             sync.Mutex
	scenes         map[string]Scene
	deviceToScenes map[int]map[string]struct{}
}

// NewManager constructs an empty Manager backed by client for device reads
// and command dispatch.
func NewManager(client hubitat.Client) *Manager {
	return &Manager{
		client:         client,
		scenes:         make(map[string]Scene),
		deviceToScenes: make(map[int]map[string]struct{}),
	}
}

// CreateScene registers a new scene. Returns an error if the name is
// already taken.
func (m *Manager) CreateScene(s Scene) (Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.scenes[s.Name]; exists {
		return Scene{}, fmt.Errorf("scene %q already exists", s.Name)
	}
	m.scenes[s.Name] = s
	for _, req := range s.DeviceStates {
		if m.deviceToScenes[req.DeviceID] == nil {
			m.deviceToScenes[req.DeviceID] = make(map[string]struct{})
		}
		m.deviceToScenes[req.DeviceID][s.Name] = struct{}{}
	}
	return s, nil
}

// DeleteScene removes a scene and returns its definition.
func (m *Manager) DeleteScene(name string) (Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scenes[name]
	if !ok {
		return Scene{}, fmt.Errorf("scene %q not found", name)
	}
	delete(m.scenes, name)
	for _, req := range s.DeviceStates {
		if set, ok := m.deviceToScenes[req.DeviceID]; ok {
			delete(set, name)
			if len(set) == 0 {
				delete(m.deviceToScenes, req.DeviceID)
			}
		}
	}
	return s, nil
}

// GetScene returns the raw definition of a single scene, or nil if it
// doesn't exist.
func (m *Manager) GetScene(name string) *Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[name]
	if !ok {
		return nil
	}
	return &s
}

// GetScenes returns scenes matching the filter (name takes precedence over
// deviceID; both zero-value means "all scenes"), each annotated with
// whether it's currently applied.
func (m *Manager) GetScenes(ctx context.Context, name string, deviceID int) ([]WithStatus, error) {
	m.mu.Lock()
	var candidates []Scene
	switch {
	case name != "":
		if s, ok := m.scenes[name]; ok {
			candidates = []Scene{s}
		}
	case deviceID != 0:
		for sceneName := range m.deviceToScenes[deviceID] {
			candidates = append(candidates, m.scenes[sceneName])
		}
	default:
		for _, s := range m.scenes {
			candidates = append(candidates, s)
		}
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	deviceIDs := make(map[int]struct{})
	for _, s := range candidates {
		for _, req := range s.DeviceStates {
			deviceIDs[req.DeviceID] = struct{}{}
		}
	}

	states, err := m.batchFetchDeviceStates(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}

	out := make([]WithStatus, len(candidates))
	for i, s := range candidates {
		out[i] = WithStatus{Scene: s, IsSet: isSceneSetWithStates(s, states)}
	}
	return out, nil
}

// SetScene applies a scene by dispatching all its commands concurrently and
// collecting per-device failures without aborting the rest.
func (m *Manager) SetScene(ctx context.Context, name string) (*SetResult, error) {
	m.mu.Lock()
	s, ok := m.scenes[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("scene %q not found", name)
	}

	results := make([]error, len(s.DeviceStates))
	var wg sync.WaitGroup
	for i, req := range s.DeviceStates {
		wg.Add(1)
		go func(i int, req DeviceStateRequirement) {
			defer wg.Done()
			results[i] = m.client.SendCommand(ctx, req.DeviceID, req.Command, req.Arguments...)
		}(i, req)
	}
	wg.Wait()

	var failed []CommandResult
	for i, err := range results {
		if err != nil {
			req := s.DeviceStates[i]
			failed = append(failed, CommandResult{
				DeviceID:  req.DeviceID,
				Command:   req.Command,
				Arguments: req.Arguments,
				Error:     err.Error(),
			})
		}
	}

	total := len(s.DeviceStates)
	success := len(failed) == 0
	message := fmt.Sprintf("scene %q applied successfully (%d commands)", name, total)
	if !success {
		message = fmt.Sprintf("scene %q applied with %d failures out of %d commands", name, len(failed), total)
	}

	return &SetResult{
		Success:        success,
		SceneName:      name,
		Message:        message,
		FailedCommands: failed,
	}, nil
}

// IsSceneSet reports whether every device state in the named scene
// currently matches its recorded value.
func (m *Manager) IsSceneSet(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	s, ok := m.scenes[name]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("scene %q not found", name)
	}

	deviceIDs := make(map[int]struct{})
	for _, req := range s.DeviceStates {
		deviceIDs[req.DeviceID] = struct{}{}
	}

	states, err := m.batchFetchDeviceStates(ctx, deviceIDs)
	if err != nil {
		return false, err
	}
	return isSceneSetWithStates(s, states), nil
}

func isSceneSetWithStates(s Scene, states map[int]map[string]any) bool {
	for _, req := range s.DeviceStates {
		attrs := states[req.DeviceID]
		if attrs == nil {
			return false
		}
		if attrs[req.Attribute] != req.Value {
			return false
		}
	}
	return true
}

func (m *Manager) batchFetchDeviceStates(ctx context.Context, deviceIDs map[int]struct{}) (map[int]map[string]any, error) {
	if len(deviceIDs) == 0 {
		return map[int]map[string]any{}, nil
	}

	type result struct {
		id    int
		attrs map[string]any
		err   error
	}

	results := make(chan result, len(deviceIDs))
	for id := range deviceIDs {
		go func(id int) {
			attrs, err := m.client.GetAllAttributes(ctx, id)
			results <- result{id: id, attrs: attrs, err: err}
		}(id)
	}

	out := make(map[int]map[string]any, len(deviceIDs))
	for range deviceIDs {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("fetch device %d attributes: %w", r.id, r.err)
		}
		out[r.id] = r.attrs
	}
	return out, nil
}
