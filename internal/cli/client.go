package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/me/blaze/pkg/model"
)

// Client is an HTTP client for the blaze API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a blaze API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

// do performs an HTTP request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		c.Logger.Debug("HTTP request body", "body", string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.Logger.Debug("HTTP request", "method", method, "url", url)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode, err, string(respBody))
	}
	if apiResp.Status == "error" && apiResp.Error != nil {
		return apiResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("parse data: %w", err)
	}
	return nil
}

// SubmitResult is the server's answer to a task submission.
type SubmitResult struct {
	Task     model.TaskView `json:"task"`
	WaitTime model.WaitTime `json:"wait_time"`
}

// HealthInfo is the server health report.
type HealthInfo struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Platform  string `json:"platform"`
	Store     string `json:"store"`
}

// ExecutionList is one page of recorded executions.
type ExecutionList struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
}

func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var h HealthInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &h)
	return h, err
}

func (c *Client) Queue(ctx context.Context) (model.QueueView, error) {
	var q model.QueueView
	err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &q)
	return q, err
}

// Submit creates a task for appID expecting the given input partitions.
func (c *Client) Submit(ctx context.Context, appID string, partitions []int64) (SubmitResult, error) {
	req := model.SubmitRequest{Inputs: make([]model.InputSpec, 0, len(partitions))}
	for _, pid := range partitions {
		req.Inputs = append(req.Inputs, model.InputSpec{PartitionID: pid})
	}
	var res SubmitResult
	err := c.do(ctx, http.MethodPost, "/api/v1/apps/"+url.PathEscape(appID)+"/tasks", req, &res)
	return res, err
}

// DataReady announces one hydratable partition of task id.
func (c *Client) DataReady(ctx context.Context, id int64, msg *model.DataMsg) (model.BlockView, error) {
	var b model.BlockView
	err := c.do(ctx, http.MethodPost, taskPath(id, "/data"), msg, &b)
	return b, err
}

func (c *Client) Task(ctx context.Context, id int64) (model.TaskView, error) {
	var v model.TaskView
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &v)
	return v, err
}

func (c *Client) WaitTime(ctx context.Context, id int64) (model.WaitTime, error) {
	var w model.WaitTime
	err := c.do(ctx, http.MethodGet, taskPath(id, "/wait-time"), nil, &w)
	return w, err
}

// Output pops one output block of task id.
func (c *Client) Output(ctx context.Context, id int64) (model.OutputView, error) {
	var o model.OutputView
	err := c.do(ctx, http.MethodGet, taskPath(id, "/output"), nil, &o)
	return o, err
}

func (c *Client) Executions(ctx context.Context, appID string, limit int) (ExecutionList, error) {
	q := url.Values{}
	if appID != "" {
		q.Set("app_id", appID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var l ExecutionList
	err := c.do(ctx, http.MethodGet, path, nil, &l)
	return l, err
}

func taskPath(id int64, suffix string) string {
	return "/api/v1/tasks/" + strconv.FormatInt(id, 10) + suffix
}
