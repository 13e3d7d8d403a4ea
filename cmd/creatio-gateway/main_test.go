// ABOUTME: Tests for the creatio-gateway command tree
// ABOUTME: Drives commands through SetArgs and captures their output

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/creatio-gateway/internal/auth"
	"github.com/2389/creatio-gateway/internal/config"
	"github.com/2389/creatio-gateway/internal/tools"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// syncBuffer is written by server goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func executeCLI(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	// Keep the default config lookup away from the real home directory.
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "creatio-gateway dev\n", stdout)
}

func TestToolsMarkdown(t *testing.T) {
	stdout, _, err := executeCLI(t, context.Background(), "tools")
	require.NoError(t, err)
	assert.Equal(t, tools.Markdown(tools.Registry()), stdout)
	assert.Contains(t, stdout, "`create_creatio_account`")
}

func TestToolsJSON(t *testing.T) {
	stdout, _, err := executeCLI(t, context.Background(), "tools", "--format", "json")
	require.NoError(t, err)
	require.True(t, gjson.Valid(stdout))
	names := gjson.Get(stdout, "#.name").Array()
	require.Len(t, names, len(tools.Registry()))
	assert.Equal(t, tools.ToolTestConnection, names[0].String())
}

func TestToolsUnknownFormat(t *testing.T) {
	_, _, err := executeCLI(t, context.Background(), "tools", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestTokenRoundTrip(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: \""+testSecret+"\"\n")

	stdout, _, err := executeCLI(t, context.Background(), "--config", path, "token", "--subject", "alice", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	subject, err := verifier.Verify(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestTokenRequiresSubject(t *testing.T) {
	_, _, err := executeCLI(t, context.Background(), "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "subject" not set`)
}

func TestTokenRequiresSecret(t *testing.T) {
	_, _, err := executeCLI(t, context.Background(), "token", "--subject", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer healthy.Close()

	stdout, _, err := executeCLI(t, context.Background(), "health", "--url", healthy.URL+"/health")
	require.NoError(t, err)
	assert.Equal(t, "healthy\n", stdout)

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	_, _, err = executeCLI(t, context.Background(), "health", "--url", unhealthy.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHealth_UsesConfiguredAddress(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	path := writeConfig(t, "server:\n  http_addr: \""+addr+"\"\n")

	_, _, err := executeCLI(t, context.Background(), "--config", path, "health")
	require.NoError(t, err)
	assert.Equal(t, "/health", gotPath)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, path, err := (&rootOptions{}).loadConfig()
	require.NoError(t, err, "a missing default config falls back to defaults")
	assert.Empty(t, path)
	assert.Equal(t, config.DefaultHTTPAddr, cfg.Server.HTTPAddr)

	_, _, err = (&rootOptions{configPath: "/nonexistent/creatio.yaml"}).loadConfig()
	assert.Error(t, err, "a missing --config file is an error")

	bad := writeConfig(t, "logging:\n  level: loud\n")
	_, _, err = (&rootOptions{configPath: bad}).loadConfig()
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	path := writeConfig(t, "server:\n  http_addr: \""+addr+"\"\nlogging:\n  format: json\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"--config", path, "serve"})
		cmd.SetOut(stdout)
		cmd.SetErr(stdout)
		done <- cmd.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	out := stdout.String()
	assert.Contains(t, out, "MCP:       http://"+addr+"/mcp/sse")
	assert.Contains(t, out, `"msg":"starting creatio-gateway"`)
	assert.Contains(t, out, "Auth:      disabled")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "mcp").WithGroup("req").Info("stream opened", "id", "abc")
	logger.Warn("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF stream opened component=mcp req.id=abc")
	assert.Contains(t, lines[1], "WRN careful")
}
