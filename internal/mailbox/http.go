package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
)

// HTTPClient implements Client against a mailbox provider's relay API.
// The provider handles IMAP/POP3 mechanics; this client only speaks its
// fetch/delete surface.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type fetchRequest struct {
	Provider string            `json:"provider"`
	Address  string            `json:"address"`
	Secret   map[string]string `json:"secret,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Since    string            `json:"since,omitempty"`
}

func (c *HTTPClient) Fetch(ctx context.Context, cfg Config, limit int, since time.Time) ([]*envelope.Envelope, error) {
	req := fetchRequest{
		Provider: cfg.Provider,
		Address:  cfg.Address,
		Secret:   cfg.Secret,
		Limit:    limit,
	}
	if !since.IsZero() {
		req.Since = since.Format(time.RFC3339)
	}

	var resp struct {
		Messages []*envelope.Envelope `json:"messages"`
	}
	if err := c.doJSON(ctx, "/v1/mailbox/fetch", req, &resp); err != nil {
		return nil, fmt.Errorf("mailbox fetch: %w", err)
	}
	return resp.Messages, nil
}

func (c *HTTPClient) Delete(ctx context.Context, cfg Config, providerID string, fromSent bool) (bool, error) {
	req := struct {
		Provider   string            `json:"provider"`
		Address    string            `json:"address"`
		Secret     map[string]string `json:"secret,omitempty"`
		ProviderID string            `json:"provider_id"`
		FromSent   bool              `json:"from_sent,omitempty"`
	}{cfg.Provider, cfg.Address, cfg.Secret, providerID, fromSent}

	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.doJSON(ctx, "/v1/mailbox/delete", req, &resp); err != nil {
		return false, fmt.Errorf("mailbox delete: %w", err)
	}
	return resp.Deleted, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
