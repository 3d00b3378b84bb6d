// Package flux provides the Go client SDK for Flux chat.
//
// It covers the friends REST API, the realtime push channel, and the session
// synchronizer that keeps a local view of friends, presence, pending requests
// and conversation history consistent with both.
//
// Example:
//
//	client := flux.NewClient("", flux.WithBaseURL("http://localhost:5000"))
//	socket := flux.NewSocket(client.SocketURL(), nil)
//	_ = socket.Connect(ctx)
//
//	session := flux.NewSession(identity, client, socket)
//	session.OnChange(func(v flux.SessionView) { render(v) })
//	_ = session.Start(ctx)
//	defer session.Close()
package flux

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

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 30 * time.Second
)

// REST paths, mounted under /api.
const (
	pathPendingRequests = "/api/friends/requests/pending"
	pathFriendList      = "/api/friends/list"
	pathSearch          = "/api/friends/search"
	pathSendRequest     = "/api/friends/request"
	pathAccept          = "/api/friends/accept"
	pathRegister        = "/api/auth/register"
	pathLogin           = "/api/auth/login"
)

// Client talks to the Flux REST API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithDebugLogging logs every request and response through zerolog at debug level.
func WithDebugLogging(enabled bool) ClientOption {
	return func(c *Client) {
		if enabled {
			c.httpClient.Transport = &debugTransport{base: c.httpClient.Transport}
		}
	}
}

// NewClient creates a new Flux client.
// token is optional; the friends endpoints only need the identity in the body.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the session token sent as a bearer credential.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SocketURL returns the realtime channel URL derived from the base URL.
func (c *Client) SocketURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func checkSuccess(flag *bool) error {
	if flag == nil || !*flag {
		return ErrUnsuccessful
	}
	return nil
}

// ============================================================================
// Friends API
// ============================================================================

// PendingRequests fetches the incoming friend requests for identity.
func (c *Client) PendingRequests(ctx context.Context, identity string) ([]PendingRequest, error) {
	data, err := c.doRequest(ctx, http.MethodPost, pathPendingRequests, map[string]string{"identity": identity})
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	res, err := decodeJSON[pendingRequestsResult](data)
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(res.Success); err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	return res.PendingRequests, nil
}

// Friends fetches the friend list snapshot for identity.
func (c *Client) Friends(ctx context.Context, identity string) ([]FriendEntry, error) {
	data, err := c.doRequest(ctx, http.MethodPost, pathFriendList, map[string]string{"identity": identity})
	if err != nil {
		return nil, fmt.Errorf("friend list: %w", err)
	}
	res, err := decodeJSON[friendListResult](data)
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(res.Success); err != nil {
		return nil, fmt.Errorf("friend list: %w", err)
	}
	return res.Friends, nil
}

// Search looks up a user by identity. A miss yields an error matching ErrNotFound.
func (c *Client) Search(ctx context.Context, query string) (*UserSummary, error) {
	data, err := c.doRequest(ctx, http.MethodPost, pathSearch, map[string]string{"query": query})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("search %q: %w", query, ErrNotFound)
		}
		return nil, fmt.Errorf("search: %w", err)
	}
	res, err := decodeJSON[searchResult](data)
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(res.Success); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if res.User == nil {
		return nil, fmt.Errorf("search %q: %w", query, ErrNotFound)
	}
	return res.User, nil
}

// SendRequest sends a friend request and returns the server's message.
func (c *Client) SendRequest(ctx context.Context, senderIdentity, targetIdentity string) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPost, pathSendRequest, map[string]string{
		"senderIdentity": senderIdentity,
		"targetIdentity": targetIdentity,
	})
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	res, err := decodeJSON[messageResult](data)
	if err != nil {
		return "", err
	}
	// The request endpoint answers with a bare message; success is only
	// checked when the flag is present.
	if res.Success != nil && !*res.Success {
		return "", fmt.Errorf("send request: %w", ErrUnsuccessful)
	}
	return res.Message, nil
}

// Accept accepts the pending request from senderIdentity.
func (c *Client) Accept(ctx context.Context, acceptorIdentity, senderIdentity string) error {
	data, err := c.doRequest(ctx, http.MethodPost, pathAccept, map[string]string{
		"acceptorIdentity": acceptorIdentity,
		"senderIdentity":   senderIdentity,
	})
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	res, err := decodeJSON[messageResult](data)
	if err != nil {
		return err
	}
	if err := checkSuccess(res.Success); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	return nil
}

// ============================================================================
// Auth API
// ============================================================================

// Register creates an account and returns its server-issued identity.
func (c *Client) Register(ctx context.Context, opts *RegisterOptions) (*RegisterResult, error) {
	if opts == nil || opts.LoginID == "" || opts.Password == "" {
		return nil, fmt.Errorf("register: loginId and password are required")
	}
	data, err := c.doRequest(ctx, http.MethodPost, pathRegister, opts)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return decodeJSON[RegisterResult](data)
}

// Login authenticates and returns the session token and identity.
func (c *Client) Login(ctx context.Context, loginID, password string) (*LoginResult, error) {
	data, err := c.doRequest(ctx, http.MethodPost, pathLogin, map[string]string{
		"loginId":  loginID,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	res, err := decodeJSON[LoginResult](data)
	if err != nil {
		return nil, err
	}
	if res.Token == "" || res.Identity == "" {
		return nil, fmt.Errorf("login: %w", ErrUnsuccessful)
	}
	return res, nil
}
