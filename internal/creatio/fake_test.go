// ABOUTME: In-process fake Creatio server used by the client tests.
// ABOUTME: Serves the forms-auth login endpoint and delegates OData paths to a per-test handler.

package creatio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const (
	testCSRF         = "csrf-token"
	testCookieHeader = "BPMCSRF=csrf-token; .ASPXAUTH=auth-ticket; BPMLOADER=loader; UserName=83|117"
)

type fakeCreatio struct {
	srv       *httptest.Server
	logins    atomic.Int32
	loginCode int
	loginHTTP int
	noCookies bool
	data      http.HandlerFunc
}

func newFakeCreatio(t *testing.T, data http.HandlerFunc) *fakeCreatio {
	t.Helper()
	f := &fakeCreatio{data: data, loginHTTP: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, f.handleLogin)
	mux.HandleFunc(odataRoot, f.handleData)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCreatio) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.logins.Add(1)

	var req loginRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if f.loginHTTP != http.StatusOK {
		http.Error(w, "login service down", f.loginHTTP)
		return
	}
	code := f.loginCode
	if req.UserPassword != "secret" {
		code = 1
	}
	if code == 0 && !f.noCookies {
		w.Header().Add("Set-Cookie", "BPMCSRF=csrf-token; path=/")
		w.Header().Add("Set-Cookie", ".ASPXAUTH=auth-ticket; path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "BPMSESSIONID=ignored; path=/")
		w.Header().Add("Set-Cookie", "BPMLOADER=loader; path=/")
		w.Header().Add("Set-Cookie", "UserName=83|117; expires=Wed, 21 Oct 2026 07:28:00 GMT; path=/")
	}
	w.Header().Set("Content-Type", "application/json")
	msg := ""
	if code != 0 {
		msg = "Invalid username or password"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"Code": code, "Message": msg})
}

func (f *fakeCreatio) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("BPMCSRF") != testCSRF || !strings.Contains(r.Header.Get("Cookie"), ".ASPXAUTH=auth-ticket") {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("<html><head><title>Login required</title></head></html>"))
		return
	}
	f.data(w, r)
}

func (f *fakeCreatio) client() *Client {
	return NewClient(Config{
		BaseURL:  f.srv.URL + "/",
		Username: "Supervisor",
		Password: "secret",
		Logger:   slog.Default(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; odata.metadata=minimal")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
