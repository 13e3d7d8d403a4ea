// ABOUTME: Auth Session Manager: forms-auth login, credential extraction, expiry tracking.
// ABOUTME: Sessions are immutable values; re-authentication replaces the held session whole.

package creatio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// SessionLifetime is how long a login is trusted before re-authenticating.
const SessionLifetime = 30 * time.Minute

const loginPath = "/ServiceModel/AuthService.svc/Login"

// maxBodySize caps how much of any upstream response is read (8MB).
const maxBodySize = 8 << 20

// Session holds the credentials a successful login produced.
type Session struct {
	Cookie    string
	CSRFToken string
	ExpiresAt time.Time

	// Diagnostics lists suspicious conditions noticed during login, such as
	// a missing anti-forgery token. The session is still used.
	Diagnostics []string
}

// Valid reports whether the session is still usable at instant now.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

type loginRequest struct {
	UserName     string `json:"UserName"`
	UserPassword string `json:"UserPassword"`
}

// EnsureAuthenticated returns the held session, logging in again when it is
// absent or expired. The client mutex is held across the check and the
// replacement so two re-authentications never interleave.
func (c *Client) EnsureAuthenticated(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Valid(c.now()) {
		return *c.session, nil
	}
	return c.reauthenticateLocked(ctx)
}

// TestConnection discards any held session and performs a fresh login.
func (c *Client) TestConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.reauthenticateLocked(ctx)
	return err
}

// CurrentSession returns a copy of the held session, if any.
func (c *Client) CurrentSession() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// reauthenticateLocked must be called with mu held. A failed login leaves the
// client without a session.
func (c *Client) reauthenticateLocked(ctx context.Context) (Session, error) {
	c.session = nil
	sess, err := c.authenticate(ctx)
	if err != nil {
		return Session{}, err
	}
	c.session = &sess
	return sess, nil
}

// authenticate performs one login round trip against the forms-auth service.
func (c *Client) authenticate(ctx context.Context) (Session, error) {
	payload, err := json.Marshal(loginRequest{UserName: c.cfg.Username, UserPassword: c.cfg.Password})
	if err != nil {
		return Session{}, fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return Session{}, &AuthError{Kind: AuthTransportFailure, Message: "building login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("logging in", "base_url", c.baseURL, "username", c.cfg.Username)

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, &AuthError{Kind: AuthTransportFailure, Message: "login request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Session{}, &AuthError{Kind: AuthTransportFailure, Status: resp.StatusCode, Message: "reading login response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Session{}, &AuthError{Kind: AuthTransportFailure, Status: resp.StatusCode, Message: snippet(string(body))}
	}

	if !gjson.ValidBytes(body) {
		return Session{}, &AuthError{
			Kind:    AuthTransportFailure,
			Status:  resp.StatusCode,
			Message: "malformed login response: " + snippet(string(body)),
		}
	}

	// Code is the upstream's own success flag, independent of HTTP status.
	code := gjson.GetBytes(body, "Code")
	if !code.Exists() || code.Int() != 0 {
		msg := gjson.GetBytes(body, "Message").String()
		if msg == "" {
			msg = fmt.Sprintf("login returned Code %s", code.Raw)
		}
		return Session{}, &AuthError{Kind: AuthRejected, Status: resp.StatusCode, Message: msg}
	}

	cookies := ExtractAuthCookies(sourceFor(resp.Header).SetCookies(resp.Header))

	sess := Session{
		Cookie:    cookies.Header,
		CSRFToken: cookies.CSRFToken,
		ExpiresAt: c.now().Add(SessionLifetime),
	}
	if sess.Cookie == "" {
		sess.Diagnostics = append(sess.Diagnostics, "login response carried no recognised auth cookies")
	}
	if sess.CSRFToken == "" {
		sess.Diagnostics = append(sess.Diagnostics, "login response carried no "+CookieCSRF+" token")
	}
	// TODO: decide whether a missing cookie or token should fail login outright
	// instead of deferring the failure to the first data call.
	for _, d := range sess.Diagnostics {
		c.logger.Warn("suspicious login response", "base_url", c.baseURL, "detail", d)
	}

	c.logger.Info("authenticated with Creatio",
		"base_url", c.baseURL,
		"username", c.cfg.Username,
		"expires_at", sess.ExpiresAt.Format(time.RFC3339),
	)
	return sess, nil
}
