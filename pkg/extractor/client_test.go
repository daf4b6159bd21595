package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_DetailFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ExtractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/r/taco-town", req.URL)
		assert.Equal(t, "detail_v1", req.Schema)

		json.NewEncoder(w).Encode(ExtractResponse{
			Success: true,
			Fields: map[string]string{
				"phone":   "+1 415 555 0101",
				"website": "https://tacotown.example",
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Extract(context.Background(), ExtractRequest{
		URL:    "https://example.com/r/taco-town",
		Schema: "detail_v1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "+1 415 555 0101", resp.Fields["phone"])
}

func TestExtract_ListingPage(t *testing.T) {
	rating := 4.5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExtractResponse{
			Success: true,
			Listings: []Listing{
				{Name: "Taco Town", URL: "https://example.com/r/taco-town", Rating: &rating},
				{Name: "Pho Real", URL: "https://example.com/r/pho-real"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	resp, err := c.Extract(context.Background(), ExtractRequest{URL: "https://example.com/list", Schema: "listing_v1", Limit: 25})
	require.NoError(t, err)
	require.Len(t, resp.Listings, 2)
	assert.Equal(t, "Taco Town", resp.Listings[0].Name)
	require.NotNil(t, resp.Listings[0].Rating)
	assert.InDelta(t, 4.5, *resp.Listings[0].Rating, 0.001)
}

func TestExtract_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Extract(context.Background(), ExtractRequest{URL: "https://x", Schema: "s"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestExtract_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Extract(context.Background(), ExtractRequest{URL: "https://x", Schema: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
