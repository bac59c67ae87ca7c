// Package meta talks to the external metadata lookup service, which turns
// a media URL into a title, author name and thumbnail URL.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Info is what the lookup service knows about a media URL.
type Info struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ThumbnailURL string `json:"thumbnail"`
}

// Client is an HTTP client for the metadata lookup service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new lookup client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetTimeout sets the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// Lookup fetches metadata for mediaURL. All three fields must be present
// in the response; a partial answer is an error so the pipeline never
// commits a song with holes in its catalog entry.
func (c *Client) Lookup(ctx context.Context, mediaURL string) (*Info, error) {
	endpoint := fmt.Sprintf("%s/api/info?url=%s", c.baseURL, url.QueryEscape(mediaURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata lookup returned status %d", resp.StatusCode)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}

	var missing []string
	if strings.TrimSpace(info.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(info.Author) == "" {
		missing = append(missing, "author")
	}
	if strings.TrimSpace(info.ThumbnailURL) == "" {
		missing = append(missing, "thumbnail")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("incomplete metadata: missing %s", strings.Join(missing, ", "))
	}

	return &info, nil
}
