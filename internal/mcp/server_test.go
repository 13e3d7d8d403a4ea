// ABOUTME: Tests for the MCP SSE transport over a real HTTP server.
// ABOUTME: Validates the endpoint handshake, message routing, error statuses and health.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/creatio-gateway/internal/auth"
	"github.com/2389/creatio-gateway/internal/creatio"
	"github.com/2389/creatio-gateway/internal/tools"
)

// stubRecords is a tools.Records that always connects and knows one account.
type stubRecords struct{}

func (stubRecords) TestConnection(context.Context) error { return nil }
func (stubRecords) QueryAccounts(context.Context, creatio.QueryOptions) (*creatio.QueryResult, error) {
	return &creatio.QueryResult{Value: []creatio.Account{{ID: "a1", Name: "Acme"}}}, nil
}
func (stubRecords) GetAccount(_ context.Context, id string) (*creatio.Account, error) {
	return &creatio.Account{ID: id, Name: "Acme"}, nil
}
func (stubRecords) CreateAccount(_ context.Context, f creatio.AccountFields) (*creatio.Account, error) {
	return &creatio.Account{ID: "new", Name: *f.Name}, nil
}
func (stubRecords) UpdateAccount(context.Context, string, creatio.AccountFields) error { return nil }
func (stubRecords) DeleteAccount(context.Context, string) error                        { return nil }

type sseEvent struct {
	name string
	data string
}

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	cancel []context.CancelFunc
}

func newTestEnv(t *testing.T, protect func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	d := tools.NewDispatcher(tools.Config{
		NewClient: func(creatio.Config) tools.Records { return stubRecords{} },
	})
	srv, err := NewServer(Config{
		Dispatcher:        d,
		Registry:          NewRegistry(RegistryConfig{}),
		KeepaliveInterval: 50 * time.Millisecond,
		Protect:           protect,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	env := &testEnv{srv: srv, http: httptest.NewServer(mux)}
	t.Cleanup(func() {
		for _, c := range env.cancel {
			c()
		}
		srv.Close()
		env.http.Close()
	})
	return env
}

// openStream connects to /mcp/sse and returns the session handle plus an event feed.
func (e *testEnv) openStream(t *testing.T) (string, <-chan sseEvent, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = append(e.cancel, cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.http.URL+PathSSE, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if ev.name != "" {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
				ev = sseEvent{}
			case strings.HasPrefix(line, ":"):
				select {
				case events <- sseEvent{name: "comment", data: strings.TrimSpace(line[1:])}:
				case <-ctx.Done():
					return
				}
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	first := nextEvent(t, events, "endpoint")
	u, err := url.Parse(first.data)
	require.NoError(t, err)
	assert.Equal(t, PathMessages, u.Path)
	id := u.Query().Get("sessionId")
	require.NotEmpty(t, id)
	return id, events, cancel
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed waiting for %q", name)
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", name)
		}
	}
}

func (e *testEnv) post(t *testing.T, sessionID, body string) *http.Response {
	t.Helper()
	target := e.http.URL + PathMessages
	if sessionID != "" {
		target += "?sessionId=" + sessionID
	}
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSSE_HandshakeAndToolCall(t *testing.T) {
	env := newTestEnv(t, nil)
	id, events, _ := env.openStream(t)

	resp := env.post(t, id, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	initResp := nextEvent(t, events, "message")
	assert.Equal(t, int64(1), gjson.Get(initResp.data, "id").Int())
	assert.Equal(t, "creatio-gateway", gjson.Get(initResp.data, "result.serverInfo.name").String())

	resp = env.post(t, id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.post(t, id, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	list := nextEvent(t, events, "message")
	assert.Equal(t, int64(2), gjson.Get(list.data, "id").Int(), "notification produced no frame")
	assert.Len(t, gjson.Get(list.data, "result.tools").Array(), len(tools.Registry()))

	env.post(t, id, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_creatio_account","arguments":{"id":"a1"}}}`)
	call := nextEvent(t, events, "message")
	assert.True(t, gjson.Get(call.data, "result.isError").Bool())
	assert.Equal(t, tools.NotConnectedMessage, gjson.Get(call.data, "result.content.0.text").String())
}

func TestSSE_ResponsesInOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	id, events, _ := env.openStream(t)

	for i := 1; i <= 5; i++ {
		body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": i, "method": "ping"})
		resp := env.post(t, id, string(body))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	for i := 1; i <= 5; i++ {
		ev := nextEvent(t, events, "message")
		assert.Equal(t, int64(i), gjson.Get(ev.data, "id").Int())
	}
}

func TestSSE_SlotsArePerConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	idA, eventsA, _ := env.openStream(t)
	idB, eventsB, _ := env.openStream(t)
	assert.NotEqual(t, idA, idB)

	env.post(t, idA, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"test_creatio_connection","arguments":{"baseUrl":"https://crm.example.com","username":"u","password":"p"}}}`)
	conn := nextEvent(t, eventsA, "message")
	require.False(t, gjson.Get(conn.data, "result.isError").Bool(), conn.data)

	get := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_creatio_account","arguments":{"id":"a1"}}}`
	env.post(t, idA, get)
	a := nextEvent(t, eventsA, "message")
	assert.False(t, gjson.Get(a.data, "result.isError").Bool())

	env.post(t, idB, get)
	b := nextEvent(t, eventsB, "message")
	assert.True(t, gjson.Get(b.data, "result.isError").Bool(), "B never connected")
}

func TestSSE_Keepalive(t *testing.T) {
	env := newTestEnv(t, nil)
	_, events, _ := env.openStream(t)

	ping := nextEvent(t, events, "comment")
	assert.Equal(t, "ping", ping.data)
}

func TestSSE_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, nil)
	id, _, cancel := env.openStream(t)
	require.Equal(t, 1, env.srv.Registry().Count())

	cancel()

	assert.Eventually(t, func() bool { return env.srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	resp := env.post(t, id, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessages_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	id, _, _ := env.openStream(t)

	tests := []struct {
		name      string
		sessionID string
		body      string
		want      int
	}{
		{"missing session id", "", `{}`, http.StatusBadRequest},
		{"unknown session", "not-a-session", `{}`, http.StatusNotFound},
		{"invalid json", id, `{"jsonrpc":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, tt.sessionID, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMessages_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	id, _, _ := env.openStream(t)

	body := `"` + strings.Repeat("a", MaxRequestBodySize) + `"`
	req := httptest.NewRequest(http.MethodPost, PathMessages+"?sessionId="+id, strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.srv.handleMessages(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMessages_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + PathMessages + "?sessionId=x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, auth.Middleware(rejectAll{}, nil))

	for _, path := range []string{PathSSE, PathMessages, PathHealth} {
		req, _ := http.NewRequest(http.MethodOptions, env.http.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "OPTIONS", path)
	}
}

type rejectAll struct{}

func (rejectAll) Verify(string) (string, error) { return "", auth.ErrInvalidToken }

func TestProtectedEndpoints(t *testing.T) {
	env := newTestEnv(t, auth.Middleware(rejectAll{}, nil))

	resp, err := http.Get(env.http.URL + PathSSE)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	post := env.post(t, "x", `{}`)
	assert.Equal(t, http.StatusUnauthorized, post.StatusCode)

	health, err := http.Get(env.http.URL + PathHealth)
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health stays open")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.openStream(t)
	env.openStream(t)
	fixed := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	env.srv.now = func() time.Time { return fixed }

	rec := httptest.NewRecorder()
	env.srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.ActiveSessions)
	assert.Equal(t, "2026-10-14T09:30:00Z", body.Timestamp)
}

func TestNewServer_RequiresDispatcher(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
