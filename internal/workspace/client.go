// Package workspace talks to the remote workspace master: workspace snapshots,
// machine start/destroy and recipe search.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ringtail/che/internal/models"
)

// APIError is a non-2xx answer from the workspace master.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("workspace api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("workspace api: %d %s", e.Status, e.Message)
}

// Client is an HTTP client for the workspace master REST API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse workspace api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("workspace api url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

// GetWorkspace fetches the current descriptor of workspace id.
func (c *Client) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "workspace", id), nil, &ws); err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", id, err)
	}
	return &ws, nil
}

// StartMachine asks the workspace master to start a machine from cfg.
func (c *Client) StartMachine(ctx context.Context, workspaceID string, cfg models.MachineConfig) (*models.MachineDescriptor, error) {
	var out models.MachineDescriptor
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "workspace", workspaceID, "machine"), cfg, &out); err != nil {
		return nil, fmt.Errorf("start machine %s: %w", cfg.Name, err)
	}
	return &out, nil
}

// DestroyMachine stops and removes machineID.
func (c *Client) DestroyMachine(ctx context.Context, workspaceID, machineID string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint(nil, "workspace", workspaceID, "machine", machineID), nil, nil); err != nil {
		return fmt.Errorf("destroy machine %s: %w", machineID, err)
	}
	return nil
}

// SearchRecipes finds recipes carrying all tags and of the given type.
func (c *Client) SearchRecipes(ctx context.Context, tags []string, recipeType string, skip, max int) ([]models.Recipe, error) {
	q := url.Values{}
	for _, t := range tags {
		q.Add("tags", t)
	}
	if recipeType != "" {
		q.Set("type", recipeType)
	}
	q.Set("skipCount", strconv.Itoa(skip))
	q.Set("maxItems", strconv.Itoa(max))

	var out []models.Recipe
	if err := c.do(ctx, http.MethodGet, c.endpoint(q, "recipe", "search"), nil, &out); err != nil {
		return nil, fmt.Errorf("search recipes: %w", err)
	}
	return out, nil
}

func (c *Client) endpoint(q url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
