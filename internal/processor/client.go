package processor

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
	"strings"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/retry"
)

// metadataPersistedIDKey is the cross-reference key the processor embeds
// into a work item's metadata once its storage layer has assigned an id.
const metadataPersistedIDKey = "persisted_id"

// Client implements Processor against the command processor's HTTP API.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	retryCfg retry.Config
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient creates a processor client. The token is sent as a bearer
// credential; pass "" when the processor is unauthenticated.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
		retryCfg: retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, item *WorkItem) (string, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal work item: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/v1/work-items", body, &resp)
	if err != nil {
		return "", fmt.Errorf("submit work item: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit work item: processor returned no id")
	}
	return resp.ID, nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*WorkItem, error) {
	var item WorkItem
	err := c.doJSON(ctx, http.MethodGet, "/v1/work-items/"+url.PathEscape(id), nil, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ResolvePersistedID tries the three mapping strategies in order:
// the metadata cross-reference on the item itself, the processor's id
// translation endpoint, and finally a best-effort recency match.
func (c *Client) ResolvePersistedID(ctx context.Context, internalID string) (string, bool) {
	// 1. Cross-reference embedded in the work item's own metadata.
	item, getErr := c.GetByID(ctx, internalID)
	if getErr == nil {
		if item.PersistedID != "" {
			return item.PersistedID, true
		}
		if id := item.Metadata[metadataPersistedIDKey]; id != "" {
			return id, true
		}
	}

	// 2. Id-translation lookup, when the processor exposes one.
	var resp struct {
		PersistedID string `json:"persisted_id"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/work-items/"+url.PathEscape(internalID)+"/persisted-id", nil, &resp)
	if err == nil && resp.PersistedID != "" {
		return resp.PersistedID, true
	}

	// 3. Best-effort recency match on the item's coordinates.
	if getErr == nil {
		if id, ok := c.resolveByRecency(ctx, item); ok {
			return id, true
		}
	}

	return "", false
}

// resolveByRecency matches by (task, submitter, status) ordered by
// recency, taking the most recent. Best effort only.
func (c *Client) resolveByRecency(ctx context.Context, item *WorkItem) (string, bool) {
	refs, err := c.ListRecent(ctx, item.Task, item.Submitter, item.Status, 1)
	if err != nil || len(refs) == 0 {
		return "", false
	}
	if refs[0].ID == item.ID {
		// The listing only knows our own handle; no separate mapping yet.
		return "", false
	}
	return refs[0].ID, true
}

func (c *Client) ListRecent(ctx context.Context, task, submitter, status string, limit int) ([]WorkItemRef, error) {
	q := url.Values{}
	q.Set("task", task)
	q.Set("submitter", submitter)
	q.Set("status", status)
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var refs []WorkItemRef
	err := c.doJSON(ctx, http.MethodGet, "/v1/work-items?"+q.Encode(), nil, &refs)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return refs, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	_, err := retry.Do(ctx, c.retryCfg, func() (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return retry.Permanent(ErrWorkItemNotFound)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Debug("processor request failed", "method", method, "path", path, "status", resp.StatusCode)
		err := fmt.Errorf("processor %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
		if resp.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode processor response: %w", err))
	}
	return nil
}
