// Package provider talks to the local session-provisioning service that owns
// the real browser processes for each tenant.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds connection and credential settings for the provider.
type Config struct {
	BaseURL  string
	Company  string
	Username string
	Password string
	Timeout  time.Duration
}

// SessionInfo describes one tenant session known to the provider.
type SessionInfo struct {
	TenantKey      string
	ProvisioningID string
	OAuthID        string
	Site           string
	Platform       string
	Expired        bool
}

// StartResult is the outcome of a start-session request.
type StartResult struct {
	OK            bool
	Endpoint      string
	Port          int
	EngineType    string
	EngineVersion string
	DownloadPath  string
	Error         string
}

// ErrRequestFailed is wrapped by errors for responses with a non-zero status code.
var ErrRequestFailed = errors.New("provider request failed")

// Client is an HTTP client for the provider's local control port.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a provider client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

type apiResponse struct {
	StatusCode json.Number     `json:"statusCode"`
	Err        string          `json:"err"`
	LastError  string          `json:"LastError"`
	Raw        json.RawMessage `json:"-"`
}

func (r apiResponse) ok() bool {
	return r.StatusCode.String() == "0"
}

func (r apiResponse) message() string {
	switch {
	case r.Err != "":
		return r.Err
	case r.LastError != "":
		return r.LastError
	default:
		return "status code " + r.StatusCode.String()
	}
}

func (c *Client) requestID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, c.now().Unix())
}

// call posts an action to the provider with credentials attached and decodes
// the response into out (which may be nil).
func (c *Client) call(ctx context.Context, action string, fields map[string]any, out any) (apiResponse, error) {
	body := map[string]any{
		"action":    action,
		"requestId": c.requestID(action),
		"company":   c.cfg.Company,
		"username":  c.cfg.Username,
		"password":  c.cfg.Password,
	}
	for k, v := range fields {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("encode %s request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return apiResponse{}, fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("send %s request: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode >= 400 {
		return apiResponse{}, fmt.Errorf("provider %s returned status: %d", action, resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s response: %w", action, err)
	}
	parsed.Raw = data
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return parsed, fmt.Errorf("decode %s payload: %w", action, err)
		}
	}
	return parsed, nil
}

// StartClient verifies the provider's control port is answering.
func (c *Client) StartClient(ctx context.Context) error {
	if _, err := c.call(ctx, "getRunningInfo", nil, nil); err != nil {
		return fmt.Errorf("provider health check: %w", err)
	}
	return nil
}

// ApplyAuth requests device authorization, needed on first use of a host.
func (c *Client) ApplyAuth(ctx context.Context) error {
	resp, err := c.call(ctx, "applyAuth", nil, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("%w: applyAuth: %s", ErrRequestFailed, resp.message())
	}
	return nil
}

// ListSessions returns the tenant sessions the provider account can start.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var payload struct {
		BrowserList []struct {
			BrowserOauth string          `json:"browserOauth"`
			BrowserID    json.RawMessage `json:"browserId"`
			BrowserName  string          `json:"browserName"`
			SiteID       string          `json:"siteId"`
			PlatformName string          `json:"platform_name"`
			IsExpired    bool            `json:"isExpired"`
		} `json:"browserList"`
	}
	resp, err := c.call(ctx, "getBrowserList", nil, &payload)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("%w: getBrowserList: %s", ErrRequestFailed, resp.message())
	}
	sessions := make([]SessionInfo, 0, len(payload.BrowserList))
	for _, item := range payload.BrowserList {
		id := rawToString(item.BrowserID)
		if id == "" {
			id = item.BrowserOauth
		}
		sessions = append(sessions, SessionInfo{
			TenantKey:      item.BrowserName,
			ProvisioningID: id,
			OAuthID:        item.BrowserOauth,
			Site:           item.SiteID,
			Platform:       item.PlatformName,
			Expired:        item.IsExpired,
		})
	}
	return sessions, nil
}

// StartSession asks the provider to launch the browser for provisioningID.
// Provider-reported failures come back as StartResult{OK: false}; transport
// failures are returned as errors.
func (c *Client) StartSession(ctx context.Context, provisioningID string, headless bool) (StartResult, error) {
	var payload struct {
		DebuggingPort json.RawMessage `json:"debuggingPort"`
		CoreTypeSnake string          `json:"core_type"`
		CoreType      string          `json:"coreType"`
		CoreVerSnake  string          `json:"core_version"`
		CoreVersion   string          `json:"coreVersion"`
		DownloadPath  string          `json:"downloadPath"`
	}
	resp, err := c.call(ctx, "startBrowser", map[string]any{
		"browserId":  provisioningID,
		"isHeadless": headless,
	}, &payload)
	if err != nil {
		return StartResult{}, err
	}
	if !resp.ok() {
		return StartResult{OK: false, Error: resp.message()}, nil
	}
	port, err := strconv.Atoi(rawToString(payload.DebuggingPort))
	if err != nil || port <= 0 {
		return StartResult{OK: false, Error: fmt.Sprintf("invalid debugging port %q", rawToString(payload.DebuggingPort))}, nil
	}
	return StartResult{
		OK:            true,
		Endpoint:      fmt.Sprintf("127.0.0.1:%d", port),
		Port:          port,
		EngineType:    firstNonEmpty(payload.CoreTypeSnake, payload.CoreType),
		EngineVersion: firstNonEmpty(payload.CoreVerSnake, payload.CoreVersion),
		DownloadPath:  payload.DownloadPath,
	}, nil
}

// StopSession closes the browser for provisioningID.
func (c *Client) StopSession(ctx context.Context, provisioningID string) error {
	resp, err := c.call(ctx, "stopBrowser", map[string]any{"browserId": provisioningID}, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("%w: stopBrowser: %s", ErrRequestFailed, resp.message())
	}
	return nil
}

// RunningSessions returns the provider's raw description of live browsers.
func (c *Client) RunningSessions(ctx context.Context) ([]map[string]any, error) {
	var payload struct {
		Browsers []map[string]any `json:"browsers"`
	}
	if _, err := c.call(ctx, "getRunningInfo", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Browsers, nil
}

// Exit asks the provider process to shut down.
func (c *Client) Exit(ctx context.Context) error {
	resp, err := c.call(ctx, "exit", nil, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("%w: exit: %s", ErrRequestFailed, resp.message())
	}
	c.logger.Info("provider client released")
	return nil
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
