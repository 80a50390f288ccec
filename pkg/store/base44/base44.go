// Package base44 implements the store contract against the legacy hosted
// platform's native entity API.
//
// Every operation is a JSON-over-HTTP call under
// /api/apps/{appID}/entities/{Type}, authenticated with a bearer API key.
// The platform returns plain JSON (arrays for list and filter, objects for
// the rest) rather than the enveloped responses of the neon functions, so
// this adapter's job is mostly path building and status-code translation:
// 404 becomes [entity.NotFoundError], everything else non-2xx becomes
// [entity.BackendCallError].
package base44

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// Client is the hosted-platform adapter. Safe for concurrent use.
type Client struct {
	baseURL    string
	appID      string
	apiKey     string
	httpClient *http.Client
}

var _ store.Store = (*Client)(nil)

// New creates a hosted-platform adapter. The baseURL carries protocol and
// host without a trailing slash.
func New(baseURL, appID, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		appID:   appID,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Backend() entity.Backend { return entity.BackendBase44 }

func (c *Client) entityPath(t entity.Type) string {
	return fmt.Sprintf("/api/apps/%s/entities/%s", c.appID, t)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.httpClient.Do(req)
}

// call performs the request and decodes the response, mapping HTTP status
// to the shared error taxonomy. target may be nil for delete.
func (c *Client) call(ctx context.Context, op string, t entity.Type, id string, method, path string, query url.Values, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return &entity.BackendCallError{Backend: entity.BackendBase44, Operation: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &entity.NotFoundError{Type: t, ID: id}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return &entity.BackendCallError{
			Backend:   entity.BackendBase44,
			Operation: op,
			Err:       fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)),
		}
	}
	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return &entity.BackendCallError{Backend: entity.BackendBase44, Operation: op, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

func listQuery(sort string, limit int) url.Values {
	q := url.Values{}
	if sort != "" {
		q.Set("sort", sort)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) List(ctx context.Context, t entity.Type, sort string, limit int) ([]entity.Record, error) {
	var out []entity.Record
	if err := c.call(ctx, "list "+string(t), t, "", http.MethodGet, c.entityPath(t), listQuery(sort, limit), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Record{}
	}
	return out, nil
}

func (c *Client) Filter(ctx context.Context, t entity.Type, where entity.Filter, sort string, limit int) ([]entity.Record, error) {
	body := map[string]any{"where": where}
	if sort != "" {
		body["sort"] = sort
	}
	if limit > 0 {
		body["limit"] = limit
	}
	var out []entity.Record
	if err := c.call(ctx, "filter "+string(t), t, "", http.MethodPost, c.entityPath(t)+"/filter", nil, body, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Record{}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, t entity.Type, id string) (entity.Record, error) {
	var out entity.Record
	if err := c.call(ctx, "get "+string(t), t, id, http.MethodGet, c.entityPath(t)+"/"+id, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error) {
	var out entity.Record
	if err := c.call(ctx, "create "+string(t), t, "", http.MethodPost, c.entityPath(t), nil, data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error) {
	var out entity.Record
	if err := c.call(ctx, "update "+string(t), t, id, http.MethodPut, c.entityPath(t)+"/"+id, nil, partial, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, t entity.Type, id string) error {
	return c.call(ctx, "delete "+string(t), t, id, http.MethodDelete, c.entityPath(t)+"/"+id, nil, nil, nil)
}

// InvokeIntegration calls the platform's LLM-style integration with a
// prompt and returns its textual response. The data layer treats the
// integration as an opaque collaborator; prompt construction is the
// caller's business.
func (c *Client) InvokeIntegration(ctx context.Context, prompt string) (string, error) {
	path := fmt.Sprintf("/api/apps/%s/integrations/invoke", c.appID)
	var out struct {
		Response string `json:"response"`
	}
	body := map[string]any{"prompt": prompt}
	if err := c.call(ctx, "invoke integration", "", "", http.MethodPost, path, nil, body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
