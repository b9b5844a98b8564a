// Package streamapi provides the REST client for the streaming backend:
// the aggregate status endpoint and on-demand audio fetch by id.
package streamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
)

const requestTimeout = 10 * time.Second

// StreamingStatus is a read-only mirror of aggregate server state. It is
// never authoritative over the local queue.
type StreamingStatus struct {
	ConnectedClients int
	ActiveStreams    int
}

// Config represents streaming API client configuration.
type Config struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string // optional bearer token
}

// Client is a streaming backend API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type streamingStatusResponse struct {
	StreamingSystem struct {
		ConnectedClients int `json:"connected_clients"`
		ActiveStreams    int `json:"active_streams"`
	} `json:"streaming_system"`
}

// New creates a streaming API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("streaming API base URL is required")
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// StreamingStatus retrieves the aggregate streaming system status.
func (c *Client) StreamingStatus(ctx context.Context) (StreamingStatus, error) {
	body, err := c.get(ctx, "/streaming-status")
	if err != nil {
		return StreamingStatus{}, err
	}

	var resp streamingStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StreamingStatus{}, errors.Wrap(err, "failed to parse streaming status")
	}
	return StreamingStatus{
		ConnectedClients: resp.StreamingSystem.ConnectedClients,
		ActiveStreams:    resp.StreamingSystem.ActiveStreams,
	}, nil
}

// FetchAudio retrieves the binary audio body for an item by id.
func (c *Client) FetchAudio(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("audio id is required")
	}
	return c.get(ctx, "/audio/"+url.PathEscape(id))
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("request to %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	return body, nil
}

// String implements fmt.Stringer for log output.
func (s StreamingStatus) String() string {
	return fmt.Sprintf("clients=%d streams=%d", s.ConnectedClients, s.ActiveStreams)
}
