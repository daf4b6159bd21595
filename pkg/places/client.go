// Package places is the HTTP client for the permanent place entity store.
// The pipeline creates entities here at conversion time and reads locality
// candidates for fuzzy deduplication; it never mutates an entity afterwards.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://places.platewise.dev/v1"

// Client defines the place store operations the pipeline depends on.
type Client interface {
	// CreatePlace creates a permanent entity and returns its id. The store
	// rejects invalid input and otherwise succeeds exactly once per call.
	CreatePlace(ctx context.Context, input PlaceInput) (string, error)

	// SearchByLocality returns existing places in the given locality, used
	// as fuzzy-dedup candidates.
	SearchByLocality(ctx context.Context, locality string) ([]Place, error)
}

// PlaceInput is the entity-creation contract.
type PlaceInput struct {
	Name        string   `json:"name"`
	SourceURL   string   `json:"source_url,omitempty"`
	Address     string   `json:"address,omitempty"`
	Locality    string   `json:"locality,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
	Website     string   `json:"website,omitempty"`
	Cuisine     string   `json:"cuisine,omitempty"`
	Tags        string   `json:"tags,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
}

// Place is an existing permanent entity.
type Place struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Locality string `json:"locality,omitempty"`
	Address  string `json:"address,omitempty"`
}

// APIError is returned when the place store responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("places: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new place store client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreatePlace(ctx context.Context, input PlaceInput) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/places", input, &resp); err != nil {
		return "", eris.Wrap(err, "places: create place")
	}
	if resp.ID == "" {
		return "", eris.New("places: create returned empty id")
	}
	return resp.ID, nil
}

func (c *httpClient) SearchByLocality(ctx context.Context, locality string) ([]Place, error) {
	var resp struct {
		Places []Place `json:"places"`
	}
	path := "/places?locality=" + url.QueryEscape(locality)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "places: search locality %s", locality)
	}
	return resp.Places, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
