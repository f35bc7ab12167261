package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
)

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 4 << 10

// Client talks to the reference entity service:
//
//	POST   /entities/{kind}       create, 201 with the record
//	PATCH  /entities/{kind}/{id}  update, 200 with the record
//	DELETE /entities/{kind}/{id}  delete, 204
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a client for the service at baseURL. A nil httpClient
// uses http.DefaultClient; timeouts come from the caller's context.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Collection returns the collection for kind, or nil for an unknown kind.
func (c *Client) Collection(kind entity.Kind) Collection {
	if !kind.Valid() {
		return nil
	}
	return &collection{client: c, kind: kind}
}

// List returns every record of kind. The sync engine never reads back; this
// serves the CLI and tests.
func (c *Client) List(ctx context.Context, kind entity.Kind) ([]Record, error) {
	var out []Record
	if err := c.do(ctx, http.MethodGet, entityPath(kind, ""), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

type collection struct {
	client *Client
	kind   entity.Kind
}

func (c *collection) Create(ctx context.Context, payload entity.Payload) (Record, error) {
	var out Record
	if err := c.client.do(ctx, http.MethodPost, entityPath(c.kind, ""), payload, &out); err != nil {
		return nil, fmt.Errorf("create %s: %w", c.kind, err)
	}
	return out, nil
}

func (c *collection) Update(ctx context.Context, remoteID string, patch entity.Payload) (Record, error) {
	var out Record
	if err := c.client.do(ctx, http.MethodPatch, entityPath(c.kind, remoteID), patch, &out); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", c.kind, remoteID, err)
	}
	return out, nil
}

func (c *collection) Delete(ctx context.Context, remoteID string) error {
	if err := c.client.do(ctx, http.MethodDelete, entityPath(c.kind, remoteID), nil, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", c.kind, remoteID, err)
	}
	return nil
}

func entityPath(kind entity.Kind, id string) string {
	p := "/entities/" + url.PathEscape(string(kind))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
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
