// Package connector holds the narrow clients for the channel's REST
// surface: posting activities back to a conversation and the user-token
// service used for delegated OAuth. Transport-level auth (service JWTs) is
// supplied by the caller through a TokenProvider.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
)

// TokenProvider yields a bearer token for the channel service. The zero
// value (nil) sends unauthenticated requests, which the local emulator
// accepts.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken adapts a fixed token string.
func StaticToken(token string) TokenProvider {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}

// Sender is the slice of the connector the router needs.
type Sender interface {
	ReplyToActivity(ctx context.Context, a activity.Activity) (string, error)
	SendToConversation(ctx context.Context, a activity.Activity) (string, error)
}

type Client struct {
	http  *http.Client
	token TokenProvider
}

func New(httpClient *http.Client, token TokenProvider) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient, token: token}
}

type resourceResponse struct {
	ID string `json:"id"`
}

func (c *Client) ReplyToActivity(ctx context.Context, a activity.Activity) (string, error) {
	if strings.TrimSpace(a.ReplyToID) == "" {
		return c.SendToConversation(ctx, a)
	}
	path := fmt.Sprintf("/v3/conversations/%s/activities/%s",
		url.PathEscape(a.Conversation.ID), url.PathEscape(a.ReplyToID))
	return c.post(ctx, a.ServiceURL, path, a)
}

func (c *Client) SendToConversation(ctx context.Context, a activity.Activity) (string, error) {
	path := fmt.Sprintf("/v3/conversations/%s/activities", url.PathEscape(a.Conversation.ID))
	return c.post(ctx, a.ServiceURL, path, a)
}

func (c *Client) post(ctx context.Context, serviceURL, path string, a activity.Activity) (string, error) {
	if c == nil || c.http == nil {
		return "", fmt.Errorf("connector client is not initialized")
	}
	serviceURL = strings.TrimSpace(strings.TrimRight(serviceURL, "/"))
	if serviceURL == "" {
		return "", fmt.Errorf("service url is required")
	}
	if strings.TrimSpace(a.Conversation.ID) == "" {
		return "", fmt.Errorf("conversation id is required")
	}

	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal activity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire service token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("connector http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out resourceResponse
	if len(body) > 0 {
		// Some channels return an empty body on success.
		_ = json.Unmarshal(body, &out)
	}
	return out.ID, nil
}
