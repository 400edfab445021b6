package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/status"
)

// Client is the API client for a running issuebots instance
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetBots retrieves the status of every bot
func (c *Client) GetBots(ctx context.Context) ([]*status.BotStatus, error) {
	var response struct {
		Data []*status.BotStatus `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/bots", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetBotRuns retrieves the recent runs of one bot
func (c *Client) GetBotRuns(ctx context.Context, bot string, limit int) ([]*domain.BotRun, error) {
	path := fmt.Sprintf("/api/v1/bots/%s/runs", url.PathEscape(bot))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.BotRun `json:"data"`
	}
	if err := c.get(ctx, path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetWorkUnits retrieves recently emitted work units
func (c *Client) GetWorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error) {
	params := url.Values{}
	if filter.Bot != "" {
		params.Set("bot", filter.Bot)
	}
	if filter.Kind != "" {
		params.Set("kind", string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		params.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	var response struct {
		Data []*domain.WorkUnit `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/work", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
