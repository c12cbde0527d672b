package hubitat

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client implementation for tests and for local
// development without a real hub.
type MockClient struct {
	mu       sync.Mutex
	attrs    map[int]map[string]any
	devices  map[int]*Device
	Commands []SentCommand
	sendErr  error
}

// SentCommand records a command issued through SendCommand for assertions in tests.
type SentCommand struct {
	DeviceID int
	Command  string
	Args     []any
}

// NewMockClient creates a MockClient seeded with the given attribute state.
func NewMockClient(attrs map[int]map[string]any) *MockClient {
	return &MockClient{attrs: attrs, devices: map[int]*Device{}}
}

// SetDevice registers capability metadata for DeviceByID to return.
func (m *MockClient) SetDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

// SetSendError makes subsequent SendCommand calls fail with the given error.
func (m *MockClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetAttribute updates a single attribute value, as if the hub had reported it.
func (m *MockClient) SetAttribute(deviceID int, attr string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attrs[deviceID] == nil {
		m.attrs[deviceID] = map[string]any{}
	}
	m.attrs[deviceID][attr] = value
}

func (m *MockClient) GetAllAttributes(_ context.Context, deviceID int) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]any{}
	for k, v := range m.attrs[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) GetBulkAttributes(ctx context.Context, deviceIDs []int) (map[int]map[string]any, error) {
	out := make(map[int]map[string]any, len(deviceIDs))
	for _, id := range deviceIDs {
		attrs, _ := m.GetAllAttributes(ctx, id)
		out[id] = attrs
	}
	return out, nil
}

func (m *MockClient) SendCommand(_ context.Context, deviceID int, command string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.Commands = append(m.Commands, SentCommand{DeviceID: deviceID, Command: command, Args: args})
	return nil
}

func (m *MockClient) DeviceByID(_ context.Context, deviceID int) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %d not found", deviceID)
	}
	return d, nil
}
