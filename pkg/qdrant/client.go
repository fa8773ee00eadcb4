// Package qdrant implements the remote backend: a VectorStore over a
// Qdrant-compatible HTTP API. Every operation is an independent round trip;
// there is no persistent connection state.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response from the service, carrying the HTTP status
// and the service's own error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.StatusCode, e.Message)
}

// Client is a minimal JSON client for the collection and point endpoints the
// store uses.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. An empty apiKey
// sends no auth header.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope is the service's standard response wrapper.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractErrorMessage(data)}
	}
	if result == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func extractErrorMessage(data []byte) string {
	var env struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Status.Error != "" {
		return env.Status.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}

// collectionInfo is the subset of the collection description the store
// needs.
type collectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
	PointsCount int64 `json:"points_count"`
}

// GetCollection describes a collection; a missing collection is an APIError
// with status 404.
func (c *Client) GetCollection(ctx context.Context, name string) (*collectionInfo, error) {
	var info collectionInfo
	if err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateCollection creates a cosine-distance collection of the given
// dimensionality.
func (c *Client) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
}

// DeleteCollection drops a collection and all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

// point is the wire shape for upserts and reads.
type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UpsertPoints writes a batch of points in one call, waiting for the write
// to apply.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []point) error {
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

// GetPoints retrieves points by ID with payload and vector; missing IDs are
// simply absent from the result.
func (c *Client) GetPoints(ctx context.Context, collection string, ids []string) ([]point, error) {
	body := map[string]any{"ids": ids, "with_payload": true, "with_vector": true}
	var pts []point
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &pts); err != nil {
		return nil, err
	}
	return pts, nil
}

// scoredPoint is a search hit.
type scoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchPoints runs a vector search; filter may be nil.
func (c *Client) SearchPoints(ctx context.Context, collection string, vector []float32, limit int, filter any) ([]scoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	var hits []scoredPoint
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// scrollResult is one page of a scroll.
type scrollResult struct {
	Points         []point         `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// ScrollPoints pages through a collection; offset nil starts from the
// beginning, the returned offset is nil (or JSON null) on the last page.
func (c *Client) ScrollPoints(ctx context.Context, collection string, limit int, offset json.RawMessage, filter any) (*scrollResult, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if len(offset) > 0 && string(offset) != "null" {
		body["offset"] = offset
	}
	if filter != nil {
		body["filter"] = filter
	}
	var res scrollResult
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeletePoints removes points by ID.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	body := map[string]any{"points": ids}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

// DeletePointsByFilter removes all points matching a filter object.
func (c *Client) DeletePointsByFilter(ctx context.Context, collection string, filter any) error {
	body := map[string]any{"filter": filter}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

// CountPoints counts points, exactly, optionally under a filter.
func (c *Client) CountPoints(ctx context.Context, collection string, filter any) (int64, error) {
	body := map[string]any{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	var res struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// IsNotFound reports whether err is the service's 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
