// Package restapi is the HTTP client for the group, member and server
// metadata service.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/types"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// ErrNotFound is wrapped by APIError for 404 responses
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the metadata service
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps 404 to ErrNotFound
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Config configures a Client
type Config struct {
	// BaseURL is the service root, e.g. https://example.com/api/
	BaseURL string

	// AccessToken is sent as a bearer token when set
	AccessToken string

	// HTTPClient defaults to a client with config.MetadataRequestTimeout
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client fetches metadata records over HTTP
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a metadata client
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(config.DefaultAPIURL, "/")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("restapi: base URL must be http(s) (got %q)", baseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.MetadataRequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				IdleConnTimeout:     config.HTTPIdleConnTimeout,
				MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			},
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		logger:      logger.Named("restapi"),
	}, nil
}

// GetGroupInfo fetches a group with its roles and servers
func (c *Client) GetGroupInfo(ctx context.Context, groupID int) (*types.GroupInfo, error) {
	var group types.GroupInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%d", groupID), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// GetGroupMember fetches a user's membership record in a group
func (c *Client) GetGroupMember(ctx context.Context, groupID, userID int) (*types.MemberInfo, error) {
	var member types.MemberInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%d/members/%d", groupID, userID), nil, &member); err != nil {
		return nil, err
	}
	if member.GroupID == 0 {
		member.GroupID = groupID
	}
	return &member, nil
}

// GetServerInfo fetches a server's current status
func (c *Client) GetServerInfo(ctx context.Context, serverID int) (*types.ServerInfo, error) {
	var server types.ServerInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d", serverID), nil, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

// GetConsoleDetails requests console access for a server
func (c *Client) GetConsoleDetails(ctx context.Context, serverID int) (*types.ConsoleDetails, error) {
	var details types.ConsoleDetails
	body := map[string]bool{"should_launch": false, "ignore_offline": false}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/console", serverID), body, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// do performs one request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("restapi: encoding request for %s: %w", path, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("restapi: creating request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Metadata request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("restapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		c.logger.Warn("Metadata request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("restapi: decoding %s response: %w", path, err)
	}

	c.logger.Debug("Metadata request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))
	return nil
}
