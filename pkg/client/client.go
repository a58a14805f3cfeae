package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zenyx/fleet/pkg/types"
)

// Client wraps the fleet REST API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new fleet API client for the given address
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateBot registers a new bot from an owner and credential
func (c *Client) CreateBot(ownerID, token string) (*types.Bot, error) {
	var bot types.Bot
	err := c.do(http.MethodPost, "/v1/bots", map[string]string{
		"owner_id": ownerID,
		"token":    token,
	}, &bot)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListBots returns all bots, optionally filtered by owner
func (c *Client) ListBots(ownerID string) ([]*types.Bot, error) {
	path := "/v1/bots"
	if ownerID != "" {
		path += "?owner=" + url.QueryEscape(ownerID)
	}

	var bots []*types.Bot
	if err := c.do(http.MethodGet, path, nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// GetBot fetches a single bot record by ID
func (c *Client) GetBot(id string) (*types.Bot, error) {
	var bot types.Bot
	if err := c.do(http.MethodGet, "/v1/bots/"+url.PathEscape(id), nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// DeleteBot permanently removes a bot
func (c *Client) DeleteBot(id string) error {
	return c.do(http.MethodDelete, "/v1/bots/"+url.PathEscape(id), nil, nil)
}

// PauseBot stops a bot's worker until resumed
func (c *Client) PauseBot(id string) error {
	return c.do(http.MethodPost, "/v1/bots/"+url.PathEscape(id)+"/pause", nil, nil)
}

// ResumeBot restarts a paused bot's worker
func (c *Client) ResumeBot(id string) error {
	return c.do(http.MethodPost, "/v1/bots/"+url.PathEscape(id)+"/resume", nil, nil)
}

// RekeyBot rotates a bot's credential
func (c *Client) RekeyBot(id, token string) (*types.Bot, error) {
	var bot types.Bot
	err := c.do(http.MethodPost, "/v1/bots/"+url.PathEscape(id)+"/rekey", map[string]string{
		"token": token,
	}, &bot)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// GetFeatureConfig reads a feature config for a bot
func (c *Client) GetFeatureConfig(id, feature string) (*types.FeatureConfig, error) {
	var cfg types.FeatureConfig
	path := "/v1/bots/" + url.PathEscape(id) + "/config/" + url.PathEscape(feature)
	if err := c.do(http.MethodGet, path, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveFeatureConfig replaces a feature config for a bot
func (c *Client) SaveFeatureConfig(id, feature string, payload map[string]any) error {
	path := "/v1/bots/" + url.PathEscape(id) + "/config/" + url.PathEscape(feature)
	return c.do(http.MethodPut, path, payload, nil)
}

// StartBroadcast starts a fan-out send to a bot's subscribers
func (c *Client) StartBroadcast(id string, payload types.Payload) error {
	path := "/v1/bots/" + url.PathEscape(id) + "/broadcast"
	return c.do(http.MethodPost, path, map[string]any{"payload": payload}, nil)
}

// ScheduleFollowUp schedules a deferred send to a single recipient
func (c *Client) ScheduleFollowUp(id, recipient string) error {
	path := "/v1/bots/" + url.PathEscape(id) + "/followup"
	return c.do(http.MethodPost, path, map[string]string{"recipient": recipient}, nil)
}

// FleetStatus returns per-worker state for the whole fleet
func (c *Client) FleetStatus() ([]types.WorkerStatus, error) {
	var resp struct {
		Workers []types.WorkerStatus `json:"workers"`
	}
	if err := c.do(http.MethodGet, "/v1/fleet/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// do performs a request and decodes the JSON response into out
func (c *Client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
