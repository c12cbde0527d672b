package hubitat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marchese29/HubitatRulesMCP/internal/common/config"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"go.uber.org/zap"
)

// HTTPClient is the Maker-API-backed implementation of Client.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewHTTPClient builds a Client from Hubitat connection configuration.
func NewHTTPClient(cfg config.HubitatConfig, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: fmt.Sprintf("http://%s/apps/api/%s", cfg.Address, cfg.AppID),
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  log,
	}
}

func (c *HTTPClient) doGet(ctx context.Context, path string) (*http.Response, error) {
	u := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("access_token", c.token)
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("hub returned status %d for %s", resp.StatusCode, path)
	}
	return resp, nil
}

type deviceResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Attributes []struct {
		Name         string `json:"name"`
		CurrentValue any    `json:"currentValue"`
	} `json:"attributes"`
	Commands []string `json:"commands"`
}

// DeviceByID loads the device with the given id from the hub.
func (c *HTTPClient) DeviceByID(ctx context.Context, deviceID int) (*Device, error) {
	resp, err := c.doGet(ctx, fmt.Sprintf("/devices/%d", deviceID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data deviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode device response: %w", err)
	}

	attrs := make(map[string]struct{}, len(data.Attributes))
	for _, a := range data.Attributes {
		attrs[a.Name] = struct{}{}
	}
	cmds := make(map[string]struct{}, len(data.Commands))
	for _, cmd := range data.Commands {
		cmds[cmd] = struct{}{}
	}

	return &Device{ID: deviceID, Name: data.Name, Attributes: attrs, Commands: cmds}, nil
}

// GetAllAttributes fetches the current attribute values for one device.
func (c *HTTPClient) GetAllAttributes(ctx context.Context, deviceID int) (map[string]any, error) {
	resp, err := c.doGet(ctx, fmt.Sprintf("/devices/%d", deviceID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data deviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode device response: %w", err)
	}

	out := make(map[string]any, len(data.Attributes))
	for _, a := range data.Attributes {
		out[a.Name] = a.CurrentValue
	}
	return out, nil
}

// GetBulkAttributes fetches attribute values for several devices. The hub's
// Maker API has no bulk endpoint, so this falls back to per-device queries
// as permitted by the contract.
func (c *HTTPClient) GetBulkAttributes(ctx context.Context, deviceIDs []int) (map[int]map[string]any, error) {
	out := make(map[int]map[string]any, len(deviceIDs))
	for _, id := range deviceIDs {
		attrs, err := c.GetAllAttributes(ctx, id)
		if err != nil {
			c.logger.Warn("failed to fetch device attributes", zap.Int("device_id", id), zap.Error(err))
			out[id] = map[string]any{}
			continue
		}
		out[id] = attrs
	}
	return out, nil
}

// SendCommand issues a fire-and-forget command to a device.
func (c *HTTPClient) SendCommand(ctx context.Context, deviceID int, command string, args ...any) error {
	path := fmt.Sprintf("/devices/%d/%s", deviceID, command)
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		path += "/" + url.PathEscape(strings.Join(parts, ","))
	}

	resp, err := c.doGet(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
