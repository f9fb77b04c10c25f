package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	requests []map[string]any
	reply    func(action string, body map[string]any) any
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.requests = append(f.requests, body)
	action, _ := body["action"].(string)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.reply(action, body))
}

func newTestClient(t *testing.T, fake *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL:  srv.URL + "/",
		Company:  "acme",
		Username: "ops",
		Password: "secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestStartSessionReturnsEndpoint(t *testing.T) {
	fake := &fakeProvider{reply: func(action string, body map[string]any) any {
		return map[string]any{"statusCode": 0, "debuggingPort": 9333, "coreType": "Chromium", "core_version": "131.0.6778.86"}
	}}
	c := newTestClient(t, fake)

	res, err := c.StartSession(context.Background(), "12345", true)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "127.0.0.1:9333", res.Endpoint)
	assert.Equal(t, "Chromium", res.EngineType)
	assert.Equal(t, "131.0.6778.86", res.EngineVersion)

	require.Len(t, fake.requests, 1)
	sent := fake.requests[0]
	assert.Equal(t, "startBrowser", sent["action"])
	assert.Equal(t, "12345", sent["browserId"])
	assert.Equal(t, true, sent["isHeadless"])
	assert.Equal(t, "acme", sent["company"])
	assert.Equal(t, "ops", sent["username"])
	assert.Equal(t, "secret", sent["password"])
	assert.NotEmpty(t, sent["requestId"])
}

func TestStartSessionReportsProviderFailure(t *testing.T) {
	fake := &fakeProvider{reply: func(string, map[string]any) any {
		return map[string]any{"statusCode": -10003, "err": "login expired"}
	}}
	c := newTestClient(t, fake)

	res, err := c.StartSession(context.Background(), "12345", false)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "login expired", res.Error)
}

func TestListSessionsMapsBrowserList(t *testing.T) {
	fake := &fakeProvider{reply: func(string, map[string]any) any {
		return map[string]any{
			"statusCode": "0",
			"browserList": []map[string]any{
				{"browserOauth": "oa-1", "browserId": 111, "browserName": "shop_01", "siteId": "id", "isExpired": false},
				{"browserOauth": "oa-2", "browserName": "shop_02", "siteId": "my", "isExpired": true},
			},
		}
	}}
	c := newTestClient(t, fake)

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, SessionInfo{TenantKey: "shop_01", ProvisioningID: "111", OAuthID: "oa-1", Site: "id"}, sessions[0])
	assert.Equal(t, "oa-2", sessions[1].ProvisioningID)
	assert.True(t, sessions[1].Expired)
}

func TestRunningSessionsReturnsProviderList(t *testing.T) {
	fake := &fakeProvider{reply: func(action string, _ map[string]any) any {
		return map[string]any{"statusCode": 0, "browsers": []map[string]any{
			{"browserId": "111", "debuggingPort": 9333},
			{"browserId": "222", "debuggingPort": 9334},
		}}
	}}
	c := newTestClient(t, fake)

	running, err := c.RunningSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "111", running[0]["browserId"])
	assert.Equal(t, "getRunningInfo", fake.requests[0]["action"])
}

func TestStopSessionAndExitSurfaceFailures(t *testing.T) {
	fake := &fakeProvider{reply: func(action string, _ map[string]any) any {
		if action == "exit" {
			return map[string]any{"statusCode": 0}
		}
		return map[string]any{"statusCode": 1, "LastError": "not running"}
	}}
	c := newTestClient(t, fake)

	err := c.StopSession(context.Background(), "111")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "not running")

	assert.NoError(t, c.Exit(context.Background()))
}

func TestHTTPErrorStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Error(t, c.StartClient(context.Background()))
	_, err = c.StartSession(context.Background(), "1", false)
	assert.Error(t, err)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, slog.Default())
	assert.Error(t, err)
}
