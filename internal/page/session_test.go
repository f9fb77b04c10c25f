package page

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLocator(t *testing.T) {
	cases := map[string]Locator{
		"css:.product-row":     {Kind: KindCSS, Value: ".product-row"},
		"xpath://div[@id='a']": {Kind: KindXPath, Value: "//div[@id='a']"},
		"id:search":            {Kind: KindID, Value: "search"},
		"name: keyword":        {Kind: KindName, Value: "keyword"},
		"table.products tr":    {Kind: KindCSS, Value: "table.products tr"},
		" css:button[type=x] ": {Kind: KindCSS, Value: "button[type=x]"},
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLocator(in), in)
	}
	assert.Equal(t, "id:search", ParseLocator("id:search").String())
}

func TestLocatorQuerySelector(t *testing.T) {
	cases := map[string]string{
		"css:.a, .b":              ".a, .b",
		"xpath://button[@id='s']": "//button[@id='s']",
		"id:search":               "search",
		"name:keyword":            `[name="keyword"]`,
	}
	for in, want := range cases {
		sel, opt := ParseLocator(in).Query()
		assert.Equal(t, want, sel, in)
		assert.NotNil(t, opt, in)
	}
}

func TestCallsBeforeConnectFail(t *testing.T) {
	s := New("127.0.0.1:1", Options{}, discard())
	ctx := context.Background()

	_, err := s.CurrentURL(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.ReadText(ctx, "css:.product-name", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Exists(ctx, "id:search")
	assert.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, s.Close())
}

func TestConnectFailsForClosedEndpoint(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := New(endpoint, Options{}, discard())
	assert.Error(t, s.Connect(ctx))
	_, err = s.CurrentURL(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWriteEvidenceUsesLabelAndTimestamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "evidence")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("127.0.0.1:1", Options{EvidenceDir: dir, Now: func() time.Time { return fixed }}, discard())

	path, err := s.writeEvidence("run1_before", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run1_before_20260102_030405.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

// startBrowser launches a headless Chrome with a DevTools port and returns
// its host:port. Tests skip when no browser binary is installed.
func startBrowser(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	var bin string
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			bin = p
			break
		}
	}
	if bin == "" {
		t.Skip("no chrome binary on PATH")
	}

	cmd := exec.Command(bin,
		"--headless=new",
		"--no-sandbox",
		"--disable-gpu",
		"--no-first-run",
		"--no-default-browser-check",
		"--remote-debugging-address=127.0.0.1",
		"--remote-debugging-port=0",
		"--user-data-dir="+t.TempDir(),
		"about:blank",
	)
	stderr, err := cmd.StderrPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	found := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			if _, rest, ok := strings.Cut(line, "DevTools listening on "); ok {
				if u, err := url.Parse(strings.TrimSpace(rest)); err == nil {
					select {
					case found <- u.Host:
					default:
					}
				}
			}
		}
	}()
	select {
	case endpoint := <-found:
		return endpoint
	case <-time.After(20 * time.Second):
		t.Fatal("browser did not report a DevTools endpoint")
		return ""
	}
}

const fixturePage = `<!doctype html>
<html><body>
<span class="product-name">  Lampu LED 10W  </span>
<a id="detail" data-product-id="101" href="#p101">detail</a>
<input name="keyword" value="old">
<button id="save" onclick="document.getElementById('status').textContent = 'Berhasil'">Simpan</button>
<div id="status"></div>
</body></html>`

func connectBrowser(t *testing.T, opts Options) (*Session, string) {
	t.Helper()
	endpoint := startBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, fixturePage)
	}))
	t.Cleanup(srv.Close)

	s := New(endpoint, opts, discard())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Navigate(ctx, srv.URL+"/list", 10*time.Second))
	return s, srv.URL + "/list"
}

func TestSessionAgainstBrowser(t *testing.T) {
	dir := t.TempDir()
	s, pageURL := connectBrowser(t, Options{EvidenceDir: dir})
	ctx := context.Background()

	assert.NotEmpty(t, s.Browser())

	href, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, pageURL, href)

	text, err := s.ReadText(ctx, "css:.missing-first, .product-name", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Lampu LED 10W", text)

	id, err := s.ReadAttribute(ctx, "id:detail", "data-product-id", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "101", id)

	html, err := s.ReadHTML(ctx, "css:.product-name", time.Second)
	require.NoError(t, err)
	assert.Contains(t, html, `class="product-name"`)

	require.NoError(t, s.SendText(ctx, "name:keyword", "lampu", true, time.Second))
	v, err := s.RunScript(ctx, `document.querySelector("[name=keyword]").value`)
	require.NoError(t, err)
	assert.Equal(t, "lampu", v)

	require.NoError(t, s.WaitAndClick(ctx, "xpath://button[contains(., 'Simpan')]", time.Second))
	status, err := s.ReadText(ctx, "id:status", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Berhasil", status)

	ok, err := s.Exists(ctx, "id:status")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "css:.toast-error")
	require.NoError(t, err)
	assert.False(t, ok)

	undef, err := s.RunScript(ctx, "void 0")
	require.NoError(t, err)
	assert.Nil(t, undef)

	path, err := s.Screenshot(ctx, "run1_after")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
}

func TestMissingElementReportsNotFound(t *testing.T) {
	s, _ := connectBrowser(t, Options{})
	ctx := context.Background()

	err := s.WaitAndClick(ctx, "xpath://button[@id='publish']", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "xpath://button[@id='publish']")

	text, err := s.ReadText(ctx, "css:.product-name", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Lampu LED 10W", text)
}

func TestTimedOutCallKeepsSessionUsable(t *testing.T) {
	s, _ := connectBrowser(t, Options{CallTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	_, err := s.RunScript(ctx, "new Promise(resolve => setTimeout(() => resolve(1), 1000))")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := s.RunScript(ctx, "1+2")
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)

	href, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Contains(t, href, "/list")
}

func TestCallerCancellationStopsCall(t *testing.T) {
	s, _ := connectBrowser(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.RunScript(ctx, "new Promise(resolve => setTimeout(() => resolve(1), 1000))")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := s.RunScript(context.Background(), "2*3")
	require.NoError(t, err)
	assert.Equal(t, float64(6), v)
}
