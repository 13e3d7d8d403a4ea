// ABOUTME: Dispatcher executes catalogue tools against the client held in a ClientSlot.
// ABOUTME: Every outcome, including failures and panics, comes back as a Result value.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/creatio-gateway/internal/creatio"
)

// NotConnectedMessage is returned by data tools when the slot is empty.
const NotConnectedMessage = "Not connected to Creatio. Run test_creatio_connection first."

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the outcome of a tool call.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Text joins all text blocks.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}

func textResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

func errorResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// ClientFactory builds a Creatio client from connection settings.
type ClientFactory func(cfg creatio.Config) Records

// DefaultClientFactory builds real HTTP clients.
func DefaultClientFactory(logger *slog.Logger) ClientFactory {
	return func(cfg creatio.Config) Records {
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		return creatio.NewClient(cfg)
	}
}

// Config holds dispatcher settings.
type Config struct {
	NewClient ClientFactory
	Logger    *slog.Logger
	// Timeout bounds each tool call. Zero means no deadline beyond the caller's.
	Timeout time.Duration
}

// Dispatcher routes tool calls by name.
type Dispatcher struct {
	newClient ClientFactory
	logger    *slog.Logger
	timeout   time.Duration
	handlers  map[string]handler
}

type handler func(ctx context.Context, slot *ClientSlot, args Args) (any, error)

// NewDispatcher creates a dispatcher with one handler per catalogue entry.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = DefaultClientFactory(logger)
	}

	d := &Dispatcher{
		newClient: newClient,
		logger:    logger.With("component", "tools"),
		timeout:   cfg.Timeout,
	}
	d.handlers = map[string]handler{
		ToolTestConnection: d.testConnection,
		ToolQueryAccounts:  withClient(queryAccounts),
		ToolGetAccount:     withClient(getAccount),
		ToolCreateAccount:  withClient(createAccount),
		ToolUpdateAccount:  withClient(updateAccount),
		ToolDeleteAccount:  withClient(deleteAccount),
	}
	return d
}

// Execute runs the named tool against the slot's client.
func (d *Dispatcher) Execute(ctx context.Context, slot *ClientSlot, name string, args map[string]any) (res Result) {
	desc, ok := Lookup(name)
	h, hasHandler := d.handlers[name]
	if !ok || !hasHandler {
		return errorResult(fmt.Sprintf("Unknown tool: %s", name))
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", name, "panic", r)
			res = errorResult(fmt.Sprintf("Error executing %s: internal error: %v", name, r))
		}
		d.logger.Debug("tool call complete",
			"tool", name,
			"is_error", res.IsError,
			"duration", time.Since(start),
		)
	}()

	if args == nil {
		args = map[string]any{}
	}
	if err := desc.Validate(args); err != nil {
		return errorResult(fmt.Sprintf("Error executing %s: %v", name, err))
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	out, err := h(ctx, slot, Args(args))
	if err != nil {
		if errors.Is(err, creatio.ErrNotConnected) {
			return errorResult(NotConnectedMessage)
		}
		d.logger.Warn("tool call failed", "tool", name, "error", err)
		return errorResult(fmt.Sprintf("Error executing %s: %v", name, err))
	}

	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Error executing %s: encoding result: %v", name, err))
	}
	return textResult(string(text))
}

func withClient(fn func(ctx context.Context, c Records, args Args) (any, error)) handler {
	return func(ctx context.Context, slot *ClientSlot, args Args) (any, error) {
		c, ok := slot.Get()
		if !ok {
			return nil, creatio.ErrNotConnected
		}
		return fn(ctx, c, args)
	}
}

func (d *Dispatcher) testConnection(ctx context.Context, slot *ClientSlot, args Args) (any, error) {
	baseURL := strings.TrimRight(args.String("baseUrl"), "/")
	c := d.newClient(creatio.Config{
		BaseURL:  baseURL,
		Username: args.String("username"),
		Password: args.String("password"),
	})
	if err := c.TestConnection(ctx); err != nil {
		return nil, err
	}
	slot.Set(c, baseURL)
	d.logger.Info("connected to Creatio", "base_url", baseURL, "username", args.String("username"))
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully connected to Creatio at %s", baseURL),
	}, nil
}

type queryOutput struct {
	Count    int               `json:"count"`
	Total    *int              `json:"total,omitempty"`
	Accounts []creatio.Account `json:"accounts"`
}

func queryAccounts(ctx context.Context, c Records, args Args) (any, error) {
	res, err := c.QueryAccounts(ctx, args.queryOptions())
	if err != nil {
		return nil, err
	}
	return queryOutput{Count: len(res.Value), Total: res.Count, Accounts: res.Value}, nil
}

func getAccount(ctx context.Context, c Records, args Args) (any, error) {
	id := args.String("id")
	acc, err := c.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return map[string]any{
			"found":   false,
			"message": fmt.Sprintf("Account %s not found", id),
		}, nil
	}
	return acc, nil
}

func createAccount(ctx context.Context, c Records, args Args) (any, error) {
	return c.CreateAccount(ctx, args.accountFields())
}

func updateAccount(ctx context.Context, c Records, args Args) (any, error) {
	id := args.String("id")
	fields := args.accountFields()
	if fields.Empty() {
		return nil, errors.New("no fields supplied to update")
	}
	if err := c.UpdateAccount(ctx, id, fields); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Account %s updated", id),
	}, nil
}

func deleteAccount(ctx context.Context, c Records, args Args) (any, error) {
	id := args.String("id")
	if err := c.DeleteAccount(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Account %s deleted", id),
	}, nil
}
