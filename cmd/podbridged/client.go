package main

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

	"podbridge/internal/daemon"
	"podbridge/internal/episode"
	"podbridge/internal/logbuffer"
)

// apiClient talks to a running daemon over its local HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(address string) *apiClient {
	base := strings.TrimSpace(address)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type episodePayload struct {
	Episode *episode.Episode `json:"episode"`
	Created bool             `json:"created"`
}

type episodeListPayload struct {
	Episodes []*episode.Episode `json:"episodes"`
}

type taskLogsPayload struct {
	Task    string            `json:"task"`
	Entries []logbuffer.Entry `json:"entries"`
}

type affectedPayload struct {
	Affected int64 `json:"affected"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr errorPayload
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) Status(ctx context.Context) (daemon.Status, error) {
	var status daemon.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *apiClient) Submit(ctx context.Context, sourceURL string) (*episode.Episode, bool, error) {
	var payload episodePayload
	err := c.do(ctx, http.MethodPost, "/api/episodes", map[string]string{"url": sourceURL}, &payload)
	if err != nil {
		return nil, false, err
	}
	return payload.Episode, payload.Created, nil
}

func (c *apiClient) List(ctx context.Context, statuses ...string) ([]*episode.Episode, error) {
	path := "/api/episodes"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var payload episodeListPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Episodes, nil
}

func (c *apiClient) Get(ctx context.Context, id int64) (*episode.Episode, error) {
	var payload episodePayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/episodes/%d", id), nil, &payload); err != nil {
		return nil, err
	}
	return payload.Episode, nil
}

func (c *apiClient) Remove(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/episodes/%d", id), nil, nil)
}

func (c *apiClient) Logs(ctx context.Context, id int64, task string) (taskLogsPayload, error) {
	path := fmt.Sprintf("/api/episodes/%d/logs", id)
	if task != "" {
		path += "?task=" + url.QueryEscape(task)
	}
	var payload taskLogsPayload
	err := c.do(ctx, http.MethodGet, path, nil, &payload)
	return payload, err
}

// RunPipeline triggers a pipeline action (translate, transcribe, or
// generate). With wait set the call blocks until the run finishes and
// returns the refreshed episode; otherwise it returns nil immediately.
func (c *apiClient) RunPipeline(ctx context.Context, id int64, action string, force bool, language string, wait bool) (*episode.Episode, error) {
	values := url.Values{}
	if force {
		values.Set("force", "1")
	}
	if language != "" {
		values.Set("language", language)
	}
	if wait {
		values.Set("wait", "1")
	}
	path := fmt.Sprintf("/api/episodes/%d/%s", id, action)
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if !wait {
		return nil, c.do(ctx, http.MethodPost, path, nil, nil)
	}
	var payload episodePayload
	if err := c.do(ctx, http.MethodPost, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Episode, nil
}

func (c *apiClient) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	var body any
	if len(ids) > 0 {
		body = map[string][]int64{"ids": ids}
	}
	var payload affectedPayload
	err := c.do(ctx, http.MethodPost, "/api/episodes/retry", body, &payload)
	return payload.Affected, err
}

func (c *apiClient) ClearFailed(ctx context.Context) (int64, error) {
	var payload affectedPayload
	err := c.do(ctx, http.MethodDelete, "/api/episodes/failed", nil, &payload)
	return payload.Affected, err
}
