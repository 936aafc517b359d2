package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/featureflag"
	"github.com/orgsignal/taskrouter/pkg/ingest"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// client is a thin JSON client for the TaskRouter API.
type client struct {
	server     string
	httpClient *http.Client
	verbose    bool
}

func buildClient(rt *runtimeState) *client {
	return &client{
		server:     rt.server,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		verbose:    rt.verbose,
	}
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.server + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s %s\n", method, u)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", c.server)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return errors.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return errors.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "failed to decode response")
}

func (c *client) SendSignal(ctx context.Context, sig ingest.Signal) (*ingest.Result, error) {
	var out ingest.Result
	if err := c.do(ctx, http.MethodPost, "/api/signals/", nil, sig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) DryRunSignal(ctx context.Context, sig ingest.Signal) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/signals/dryrun", nil, sig, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) ListTasks(ctx context.Context, organizationID string) ([]*task.Task, error) {
	q := url.Values{}
	if organizationID != "" {
		q.Set("organizationId", organizationID)
	}
	var out []*task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) GetTask(ctx context.Context, organizationID, taskID string) (*task.Task, error) {
	q := url.Values{"organizationId": {organizationID}}
	var out task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+taskID, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) UpdateStatus(ctx context.Context, organizationID, taskID, status string) (*task.Task, error) {
	q := url.Values{"organizationId": {organizationID}}
	body := map[string]string{"status": status}
	var out task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+taskID+"/status", q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) EscalateTask(ctx context.Context, organizationID, taskID string) (*task.Task, error) {
	q := url.Values{"organizationId": {organizationID}}
	var out task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+taskID+"/escalate", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Sweep(ctx context.Context, organizationID string) (*escalation.Stats, error) {
	q := url.Values{}
	if organizationID != "" {
		q.Set("organizationId", organizationID)
	}
	var out escalation.Stats
	if err := c.do(ctx, http.MethodPost, "/api/scheduler/sweep", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) EvaluateFlag(ctx context.Context, code, organizationID, userID, roles string) (bool, error) {
	q := url.Values{}
	if organizationID != "" {
		q.Set("organizationId", organizationID)
	}
	if userID != "" {
		q.Set("userId", userID)
	}
	if roles != "" {
		q.Set("roles", roles)
	}
	var out struct {
		Code    string `json:"code"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/flags/"+code+"/evaluate", q, nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

func (c *client) PutFlag(ctx context.Context, flag featureflag.Flag) error {
	return c.do(ctx, http.MethodPut, "/api/flags/"+flag.Code, nil, flag, nil)
}
