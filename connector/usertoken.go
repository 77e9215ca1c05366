package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTokenServiceURL = "https://token.botframework.com"

// ErrNoToken reports that the user has not completed sign-in for the
// connection; callers decide whether to prompt.
var ErrNoToken = errors.New("no user token available")

type TokenResponse struct {
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token"`
	Expiration     string `json:"expiration,omitempty"`
}

// UserTokenAPI is the slice of the token service the router needs.
type UserTokenAPI interface {
	GetUserToken(ctx context.Context, userID, connectionName, channelID, code string) (TokenResponse, error)
	SignOut(ctx context.Context, userID, connectionName, channelID string) error
}

type UserTokenClient struct {
	http    *http.Client
	baseURL string
	token   TokenProvider
}

func NewUserTokenClient(httpClient *http.Client, baseURL string, token TokenProvider) *UserTokenClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = defaultTokenServiceURL
	}
	return &UserTokenClient{http: httpClient, baseURL: baseURL, token: token}
}

// GetUserToken fetches the delegated token for user+connection+channel.
// code is the magic code typed by the user after the sign-in card, empty
// outside of that exchange. Returns ErrNoToken when the service has none.
func (c *UserTokenClient) GetUserToken(ctx context.Context, userID, connectionName, channelID, code string) (TokenResponse, error) {
	if err := c.check(userID, connectionName, channelID); err != nil {
		return TokenResponse{}, err
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("connectionName", connectionName)
	q.Set("channelId", channelID)
	if code = strings.TrimSpace(code); code != "" {
		q.Set("code", code)
	}

	body, status, err := c.do(ctx, http.MethodGet, "/api/usertoken/GetToken?"+q.Encode())
	if err != nil {
		return TokenResponse{}, err
	}
	if status == http.StatusNotFound {
		return TokenResponse{}, ErrNoToken
	}
	if status < 200 || status >= 300 {
		return TokenResponse{}, fmt.Errorf("usertoken GetToken http %d: %s", status, strings.TrimSpace(string(body)))
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return TokenResponse{}, fmt.Errorf("usertoken GetToken: invalid response: %w", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return TokenResponse{}, ErrNoToken
	}
	return out, nil
}

func (c *UserTokenClient) SignOut(ctx context.Context, userID, connectionName, channelID string) error {
	if err := c.check(userID, connectionName, channelID); err != nil {
		return err
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("connectionName", connectionName)
	q.Set("channelId", channelID)

	body, status, err := c.do(ctx, http.MethodDelete, "/api/usertoken/SignOut?"+q.Encode())
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("usertoken SignOut http %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *UserTokenClient) check(userID, connectionName, channelID string) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("usertoken client is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(connectionName) == "" {
		return fmt.Errorf("connection name is required")
	}
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	return nil
}

func (c *UserTokenClient) do(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("acquire service token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return body, resp.StatusCode, nil
}
