// Package graph is a minimal client for the productivity graph used to
// ground answers in the user's files. Every call carries the user's
// delegated token; the bot never holds application-level graph credentials.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

type Client struct {
	http    *http.Client
	baseURL string
}

func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

type Profile struct {
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	UPN         string `json:"userPrincipalName"`
}

type DriveItem struct {
	Name         string `json:"name"`
	WebURL       string `json:"webUrl"`
	LastModified string `json:"lastModifiedDateTime"`
}

type driveItemList struct {
	Value []DriveItem `json:"value"`
}

func (c *Client) Me(ctx context.Context, userToken string) (Profile, error) {
	var out Profile
	if err := c.getJSON(ctx, userToken, "/me", &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (c *Client) RecentFiles(ctx context.Context, userToken string, top int) ([]DriveItem, error) {
	if top <= 0 {
		top = 10
	}
	var out driveItemList
	if err := c.getJSON(ctx, userToken, "/me/drive/recent?$top="+strconv.Itoa(top), &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *Client) SearchFiles(ctx context.Context, userToken, query string, top int) ([]DriveItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if top <= 0 {
		top = 5
	}
	path := fmt.Sprintf("/me/drive/root/search(q='%s')?$top=%d", url.PathEscape(query), top)
	var out driveItemList
	if err := c.getJSON(ctx, userToken, path, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *Client) getJSON(ctx context.Context, userToken, path string, out any) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("graph client is not initialized")
	}
	if strings.TrimSpace(userToken) == "" {
		return fmt.Errorf("user token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graph http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph: invalid response: %w", err)
	}
	return nil
}
