// Package osuapi is a client for the authoritative osu! API: OAuth
// client-credentials token exchange with in-process caching, and the
// beatmapset metadata lookups the delivery pipeline needs for filenames.
package osuapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/domain"
)

const (
	// DefaultBaseURL is the osu! website root.
	DefaultBaseURL = "https://osu.ppy.sh"

	// tokenSafetyMargin refreshes the token slightly before its actual
	// expiry so an in-flight request never carries a dead token.
	tokenSafetyMargin = 60 * time.Second
)

// Client talks to the osu! API v2 using client-credentials auth.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewClient creates a client for the given credentials. An empty baseURL
// selects the production endpoint.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// tokenResponse is the OAuth token-exchange payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, exchanging credentials only when
// the cached token is missing or within the safety margin of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	if c.clientID == "" || c.clientSecret == "" {
		return "", domain.ErrMissingCredentials
	}

	clientID, err := strconv.Atoi(c.clientID)
	if err != nil {
		return "", fmt.Errorf("client id must be numeric: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"client_id":     clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
		"scope":         "public",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, msg)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned empty access token")
	}

	c.token = tok.AccessToken
	c.tokenExp = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSafetyMargin)
	return c.token, nil
}

// beatmapsetResponse is the subset of the API payload we keep.
type beatmapsetResponse struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Creator string `json:"creator"`
	Status  string `json:"status"`
}

// Beatmapset fetches catalog metadata for a set. Returns
// domain.ErrNotFound when the id is not in the catalog.
func (c *Client) Beatmapset(ctx context.Context, id int64) (*domain.Beatmapset, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v2/beatmapsets/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build beatmapset request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("beatmapset request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("beatmapset request returned %d", resp.StatusCode)
	}

	var set beatmapsetResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode beatmapset response: %w", err)
	}

	return &domain.Beatmapset{
		ID:      set.ID,
		Title:   set.Title,
		Artist:  set.Artist,
		Creator: set.Creator,
		Status:  set.Status,
	}, nil
}

// DownloadURL returns the authoritative archive endpoint for a set.
func (c *Client) DownloadURL(id int64) string {
	return fmt.Sprintf("%s/beatmapsets/%d/download", c.baseURL, id)
}

// AuthHeaders returns the request headers for the authoritative download
// endpoint, performing a token exchange if needed.
func (c *Client) AuthHeaders(ctx context.Context) (map[string]string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/octet-stream",
	}, nil
}
