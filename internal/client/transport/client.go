// Package transport is the HTTP client for the sync endpoints.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"infinite-experiment/logbook/internal/constants"
	"infinite-experiment/logbook/internal/models/dtos"
)

var (
	// ErrUnauthorized means the session is missing or no longer valid.
	// Retrying will not help until the user signs in again.
	ErrUnauthorized = errors.New("session rejected by server")
	// ErrTransient covers network failures and server errors. The queue is
	// kept and the next cycle retries.
	ErrTransient = errors.New("sync server unavailable")
)

// StatusError carries an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
	kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

const clientName = "logbook-cli"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying client, for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Push sends one queued mutation.
func (c *Client) Push(ctx context.Context, req dtos.SyncRequest) (*dtos.SyncResponse, error) {
	var resp dtos.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushBulk sends a batch of queued mutations.
func (c *Client) PushBulk(ctx context.Context, items []dtos.BulkSyncItem) (*dtos.BulkSyncResponse, error) {
	var resp dtos.BulkSyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/bulk", dtos.BulkSyncRequest{Items: items}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("result count mismatch: sent %d items, got %d results", len(items), len(resp.Results))
	}
	return &resp, nil
}

// Delta fetches a collection's changes since the watermark.
func (c *Client) Delta(ctx context.Context, collection dtos.Collection, since int64) (*dtos.DeltaResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	path := "/sync/" + url.PathEscape(string(collection)) + "?" + q.Encode()

	var resp dtos.DeltaResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(constants.HeaderClient, clientName)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			serr.kind = ErrUnauthorized
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			serr.kind = ErrTransient
		}
		return serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
