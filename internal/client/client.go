// Package client is the REST client workers use to reach the bridge server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
)

const maxResponseBytes = 4 * 1024 * 1024

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListTasks returns tasks filtered by lane and owner. Empty filters
// match everything.
func (c *Client) ListTasks(ctx context.Context, lane task.Lane, owner string) ([]*task.Task, error) {
	q := url.Values{}
	if lane != "" {
		q.Set("lane", string(lane))
	}
	if owner != "" {
		q.Set("owner", owner)
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CompleteTask reports a finished session. An empty lane lets the
// server pick the default destination.
func (c *Client) CompleteTask(ctx context.Context, id string, lane task.Lane) (*task.Task, error) {
	body := map[string]string{}
	if lane != "" {
		body["lane"] = string(lane)
	}
	var out task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/complete", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FailTask reports a session that could not finish its task.
func (c *Client) FailTask(ctx context.Context, id, reason string) (*task.Task, error) {
	var out task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/fail", map[string]string{"reason": reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
			return cerr.NewError(cerr.NewCodeFromHTTPStatus(resp.StatusCode), envelope.Message, nil)
		}
		return cerr.NewError(cerr.NewCodeFromHTTPStatus(resp.StatusCode),
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
