// Package neonfn implements the store contract against the serverless
// functions that front the relational database.
//
// Each query type has its own endpoint (salesList, transactionsFilter,
// ...), derived with [entity.FunctionName] and served by
// [github.com/repairhq/repairstore/pkg/functions]. Every response arrives
// in the {success, data, backend, error} envelope; this adapter unwraps
// it, raising [entity.BackendCallError] whenever success is false and
// [entity.NotFoundError] on 404, and guarantees that list-shaped results
// are never nil.
package neonfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

// Envelope is the uniform response shape of every serverless function.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Backend string          `json:"backend,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client is the serverless-function adapter. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ store.Store = (*Client)(nil)

// New creates a serverless-function adapter pointed at the functions host
// (protocol and host, no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Backend() entity.Backend { return entity.BackendNeon }

// InvokeFunction POSTs a JSON payload to the named function and returns
// the envelope's data. It is the transport under every entity operation
// and is also exposed directly: sequence allocation and ad-hoc function
// calls from the application go through it.
func (c *Client) InvokeFunction(ctx context.Context, name string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &entity.BackendCallError{Backend: entity.BackendNeon, Operation: name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.BackendCallError{Backend: entity.BackendNeon, Operation: name, Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &entity.BackendCallError{
			Backend:   entity.BackendNeon,
			Operation: name,
			Err:       fmt.Errorf("invalid envelope (status=%d): %w", resp.StatusCode, err),
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound{msg: env.Error}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("backend reported failure (status=%d)", resp.StatusCode)
		}
		return nil, &entity.BackendCallError{Backend: entity.BackendNeon, Operation: name, Err: fmt.Errorf("%s", msg)}
	}
	return env.Data, nil
}

// errNotFound is an internal marker: the caller knows the entity type and
// id, so the typed NotFoundError is attached at the operation layer.
type errNotFound struct{ msg string }

func (e errNotFound) Error() string { return e.msg }

func (c *Client) invokeEntity(ctx context.Context, t entity.Type, op entity.Op, id string, payload map[string]any, target any) error {
	data, err := c.InvokeFunction(ctx, entity.FunctionName(t, op), payload)
	if err != nil {
		if _, ok := err.(errNotFound); ok {
			return &entity.NotFoundError{Type: t, ID: id}
		}
		return err
	}
	if target == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &entity.BackendCallError{
			Backend:   entity.BackendNeon,
			Operation: entity.FunctionName(t, op),
			Err:       fmt.Errorf("failed to decode data: %w", err),
		}
	}
	return nil
}

func listPayload(sort string, limit int) map[string]any {
	payload := map[string]any{}
	if sort != "" {
		payload["sort"] = sort
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	return payload
}

func (c *Client) List(ctx context.Context, t entity.Type, sort string, limit int) ([]entity.Record, error) {
	var out []entity.Record
	if err := c.invokeEntity(ctx, t, entity.OpList, "", listPayload(sort, limit), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Record{}
	}
	return out, nil
}

func (c *Client) Filter(ctx context.Context, t entity.Type, where entity.Filter, sort string, limit int) ([]entity.Record, error) {
	payload := listPayload(sort, limit)
	payload["where"] = where
	var out []entity.Record
	if err := c.invokeEntity(ctx, t, entity.OpFilter, "", payload, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []entity.Record{}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, t entity.Type, id string) (entity.Record, error) {
	var out entity.Record
	if err := c.invokeEntity(ctx, t, entity.OpGet, id, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, t entity.Type, data entity.Record) (entity.Record, error) {
	var out entity.Record
	if err := c.invokeEntity(ctx, t, entity.OpCreate, "", map[string]any{"data": data}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, t entity.Type, id string, partial entity.Record) (entity.Record, error) {
	var out entity.Record
	if err := c.invokeEntity(ctx, t, entity.OpUpdate, id, map[string]any{"id": id, "data": partial}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, t entity.Type, id string) error {
	return c.invokeEntity(ctx, t, entity.OpDelete, id, map[string]any{"id": id}, nil)
}
