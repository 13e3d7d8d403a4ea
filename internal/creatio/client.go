// ABOUTME: Remote Record Client: authenticated HTTP plumbing shared by every OData operation.
// ABOUTME: Builds headers from the held session and classifies HTML pages masquerading as JSON.

package creatio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// odataContentType asks Creatio to encode 64-bit numbers as strings.
const odataContentType = "application/json; odata.metadata=minimal; IEEE754Compatible=true"

// permissionHint is appended to PermissionError messages.
const permissionHint = "The Creatio user probably lacks the \"CanUseODataService\" system operation or read access to the requested object."

// Config holds the connection settings for one Creatio instance.
type Config struct {
	BaseURL  string
	Username string
	Password string

	// HTTPClient is used for every upstream call. Defaults to a client with a
	// 60 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one Creatio instance. It holds at most one Session.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	session *Session
}

// NewClient creates a client. No network traffic happens until the first
// operation or TestConnection.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "creatio"),
		now:     time.Now,
	}
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Username returns the configured login name.
func (c *Client) Username() string { return c.cfg.Username }

// response is a fully-read upstream answer.
type response struct {
	method      string
	path        string
	status      int
	contentType string
	body        []byte
}

func (r *response) ok() bool { return r.status >= 200 && r.status <= 299 }

func (r *response) isHTML() bool {
	return strings.Contains(strings.ToLower(r.contentType), "text/html")
}

func (r *response) requestError() *RequestError {
	return &RequestError{Method: r.method, Path: r.path, Status: r.status, Body: string(r.body)}
}

// newRequest attaches the session credentials. A nil session is a
// programming error and fails fast.
func (c *Client) newRequest(ctx context.Context, sess *Session, method, path string, payload any) (*http.Request, error) {
	if sess == nil {
		return nil, ErrNoSession
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", odataContentType)
	req.Header.Set("ForceUseSession", "true")
	req.Header.Set(CookieCSRF, sess.CSRFToken)
	req.Header.Set("Cookie", sess.Cookie)
	return req, nil
}

// do authenticates if needed, sends one request and reads the whole body.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*response, error) {
	sess, err := c.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, &sess, method, path, payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	c.logger.Debug("creatio request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return &response{
		method:      method,
		path:        path,
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

var htmlTitle = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTMLTitle returns the trimmed <title> of an HTML page.
func HTMLTitle(body []byte) string {
	m := htmlTitle.FindSubmatch(body)
	if m == nil {
		return "Unknown error page"
	}
	title := strings.Join(strings.Fields(string(m[1])), " ")
	if title == "" {
		return "Unknown error page"
	}
	return title
}

// failure classifies a non-2xx answer. HTML bodies are almost always a
// missing CRM permission.
func (r *response) failure() error {
	if r.isHTML() {
		return &PermissionError{Status: r.status, Title: HTMLTitle(r.body), Hint: permissionHint}
	}
	return r.requestError()
}

// classify checks a response that is expected to carry JSON. The content
// type check runs even on 2xx because Creatio answers 200 with an HTML login
// page when the session is silently dropped.
func classify(r *response) error {
	if !r.ok() {
		return r.failure()
	}
	if r.isHTML() {
		return &UnexpectedContentTypeError{Status: r.status, ContentType: r.contentType, Body: string(r.body)}
	}
	if !gjson.ValidBytes(r.body) {
		return &MalformedResponseError{Body: string(r.body)}
	}
	return nil
}

// decodeJSON unmarshals a body that classify already accepted.
func decodeJSON(r *response, v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return &MalformedResponseError{Body: string(r.body)}
	}
	return nil
}
