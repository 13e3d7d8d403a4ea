// ABOUTME: Browser dashboard: a REST surface over the same tool dispatcher agents use.
// ABOUTME: Each browser gets its own client slot, keyed by a session cookie.

package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/creatio-gateway/internal/tools"
)

const (
	// SessionCookieName is the cookie that keys a browser's client slot.
	SessionCookieName = "creatio_dashboard"

	// MaxRequestBodySize caps tool argument bodies (1MB).
	MaxRequestBodySize = 1 << 20
)

// ConnectionDefaults pre-fill the dashboard's connect form. Passwords are never sent to the browser.
type ConnectionDefaults struct {
	BaseURL  string `json:"baseUrl,omitempty"`
	Username string `json:"username,omitempty"`
}

// Config holds dashboard configuration.
type Config struct {
	Dispatcher *tools.Dispatcher
	Slots      *SlotStore
	Logger     *slog.Logger
	Defaults   ConnectionDefaults
	// Protect wraps the /api routes, typically with auth.Middleware.
	Protect func(http.Handler) http.Handler
	Version string
}

// Dashboard serves the dashboard page, tool docs and tool API.
type Dashboard struct {
	dispatcher *tools.Dispatcher
	slots      *SlotStore
	logger     *slog.Logger
	defaults   ConnectionDefaults
	protect    func(http.Handler) http.Handler
	version    string

	index    *template.Template
	docs     *template.Template
	docsHTML template.HTML
}

// New creates a dashboard.
func New(cfg Config) (*Dashboard, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Slots == nil {
		return nil, errors.New("slot store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	protect := cfg.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	docs, err := template.ParseFS(templateFS, "templates/docs.html")
	if err != nil {
		return nil, err
	}
	docsHTML, err := renderMarkdown(tools.Markdown(tools.Registry()))
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		dispatcher: cfg.Dispatcher,
		slots:      cfg.Slots,
		logger:     logger.With("component", "dashboard"),
		defaults:   cfg.Defaults,
		protect:    protect,
		version:    cfg.Version,
		index:      index,
		docs:       docs,
		docsHTML:   docsHTML,
	}, nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// RegisterRoutes registers all dashboard routes on the given mux.
func (d *Dashboard) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", d.handleIndex)
	mux.HandleFunc("GET /docs/tools", d.handleDocs)

	mux.Handle("GET /api/tools", d.protect(http.HandlerFunc(d.handleListTools)))
	mux.Handle("GET /api/session", d.protect(http.HandlerFunc(d.handleSession)))
	mux.Handle("POST /api/tools/{name}", d.protect(http.HandlerFunc(d.handleCallTool)))
	mux.Handle("POST /api/disconnect", d.protect(http.HandlerFunc(d.handleDisconnect)))
}

// Close stops the slot store's cleanup loop.
func (d *Dashboard) Close() { d.slots.Close() }

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Tools    []tools.Descriptor
		Defaults ConnectionDefaults
		Version  string
	}{
		Tools:    tools.Registry(),
		Defaults: d.defaults,
		Version:  d.version,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.index.Execute(w, data); err != nil {
		d.logger.Error("failed to render dashboard", "error", err)
	}
}

func (d *Dashboard) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.docs.Execute(w, struct{ Content template.HTML }{d.docsHTML}); err != nil {
		d.logger.Error("failed to render tool docs", "error", err)
	}
}

func (d *Dashboard) handleListTools(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, map[string]any{"tools": tools.Registry()})
}

// sessionResponse reports the caller's connection state.
type sessionResponse struct {
	Connected   bool               `json:"connected"`
	BaseURL     string             `json:"baseUrl,omitempty"`
	ConnectedAt *time.Time         `json:"connectedAt,omitempty"`
	Defaults    ConnectionDefaults `json:"defaults"`
}

func (d *Dashboard) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Defaults: d.defaults}
	if slot, _, ok := d.existingSlot(r); ok {
		if baseURL, at, connected := slot.Info(); connected {
			resp.Connected = true
			resp.BaseURL = baseURL
			resp.ConnectedAt = &at
		}
	}
	d.writeJSON(w, http.StatusOK, resp)
}

func (d *Dashboard) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		d.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		d.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	args := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &args); err != nil || args == nil {
			d.writeError(w, http.StatusBadRequest, "request body must be a JSON object of tool arguments")
			return
		}
	}

	slot := d.slotFor(w, r)
	res := d.dispatcher.Execute(r.Context(), slot, name, args)
	d.logger.Debug("dashboard tool call", "tool", name, "is_error", res.IsError)
	d.writeJSON(w, http.StatusOK, res)
}

func (d *Dashboard) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if _, id, ok := d.existingSlot(r); ok {
		d.slots.Remove(id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	d.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Disconnected"})
}

// existingSlot returns the caller's slot without creating one.
func (d *Dashboard) existingSlot(r *http.Request) (*tools.ClientSlot, string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, "", false
	}
	slot, ok := d.slots.Get(cookie.Value)
	return slot, cookie.Value, ok
}

// slotFor returns the caller's slot, issuing a new session cookie when needed.
func (d *Dashboard) slotFor(w http.ResponseWriter, r *http.Request) *tools.ClientSlot {
	if slot, _, ok := d.existingSlot(r); ok {
		return slot
	}
	id, slot := d.slots.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return slot
}

func (d *Dashboard) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.logger.Warn("failed to encode response", "error", err)
	}
}

func (d *Dashboard) writeError(w http.ResponseWriter, status int, msg string) {
	d.writeJSON(w, status, map[string]string{"error": msg})
}
