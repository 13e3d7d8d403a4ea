// ABOUTME: Account record operations over Creatio OData: query, get, create, update, delete.
// ABOUTME: Each call is a live pass-through; nothing is cached between calls.

package creatio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const odataRoot = "/0/odata/"

// EntityAccount is the OData entity set for accounts.
const EntityAccount = "Account"

// Account is one Creatio account snapshot. Fields outside the known set
// (from $select or $expand) are kept in Extra.
type Account struct {
	ID         string `json:"Id"`
	Name       string `json:"Name"`
	Phone      string `json:"Phone,omitempty"`
	Email      string `json:"Email,omitempty"`
	Web        string `json:"Web,omitempty"`
	Address    string `json:"Address,omitempty"`
	City       string `json:"City,omitempty"`
	Country    string `json:"Country,omitempty"`
	CreatedOn  string `json:"CreatedOn,omitempty"`
	ModifiedOn string `json:"ModifiedOn,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var accountKeys = []string{"Id", "Name", "Phone", "Email", "Web", "Address", "City", "Country", "CreatedOn", "ModifiedOn"}

type plainAccount Account

// UnmarshalJSON keeps unknown, non-annotation fields in Extra.
func (a *Account) UnmarshalJSON(data []byte) error {
	var p plainAccount
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range accountKeys {
		delete(all, k)
	}
	p.Extra = nil
	for k, v := range all {
		if strings.HasPrefix(k, "@odata.") {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	*a = Account(p)
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
func (a Account) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(plainAccount(a))
	if err != nil || len(a.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(a.Extra)+len(accountKeys))
	for k, v := range a.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// AccountFields is a partial account. Only non-nil fields are sent, so an
// update leaves every omitted field at its current upstream value.
type AccountFields struct {
	Name    *string `json:"Name,omitempty"`
	Phone   *string `json:"Phone,omitempty"`
	Email   *string `json:"Email,omitempty"`
	Web     *string `json:"Web,omitempty"`
	Address *string `json:"Address,omitempty"`
	City    *string `json:"City,omitempty"`
}

// Empty reports whether no field is set.
func (f AccountFields) Empty() bool {
	return f.Name == nil && f.Phone == nil && f.Email == nil && f.Web == nil && f.Address == nil && f.City == nil
}

// QueryOptions are the OData system query options. Zero values are omitted.
type QueryOptions struct {
	Filter  string
	Select  string
	Top     int
	Skip    int
	OrderBy string
	Expand  string
}

// Encode renders the options as a query string, without the leading '?'.
// Text options are percent-encoded; numeric ones are written as-is.
func (o QueryOptions) Encode() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+encodeComponent(value))
		}
	}
	add("$filter", o.Filter)
	add("$select", o.Select)
	if o.Top > 0 {
		parts = append(parts, "$top="+strconv.Itoa(o.Top))
	}
	if o.Skip > 0 {
		parts = append(parts, "$skip="+strconv.Itoa(o.Skip))
	}
	add("$orderby", o.OrderBy)
	add("$expand", o.Expand)
	return strings.Join(parts, "&")
}

// encodeComponent percent-encodes like a URI component, with %20 for spaces.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// QueryResult is one page of a list query.
type QueryResult struct {
	Value []Account `json:"value"`
	Count *int      `json:"@odata.count,omitempty"`
}

func entityPath(entity string) string { return odataRoot + entity }

func recordPath(entity, id string) string {
	return odataRoot + entity + "(" + url.PathEscape(id) + ")"
}

// QueryAccounts lists accounts matching opts.
func (c *Client) QueryAccounts(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	path := entityPath(EntityAccount)
	if q := opts.Encode(); q != "" {
		path += "?" + q
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := classify(resp); err != nil {
		return nil, err
	}

	var result QueryResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		result.Value = []Account{}
	}
	return &result, nil
}

// GetAccount fetches one account. A missing record is (nil, nil).
func (c *Client) GetAccount(ctx context.Context, id string) (*Account, error) {
	resp, err := c.do(ctx, http.MethodGet, recordPath(EntityAccount, id), nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.ok() {
		return nil, resp.failure()
	}
	if err := classify(resp); err != nil {
		return nil, err
	}

	var acc Account
	if err := decodeJSON(resp, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts an account. Name must already be validated.
func (c *Client) CreateAccount(ctx context.Context, fields AccountFields) (*Account, error) {
	resp, err := c.do(ctx, http.MethodPost, entityPath(EntityAccount), fields)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, resp.failure()
	}
	// return=minimal answers carry no entity.
	if len(resp.body) == 0 {
		acc := &Account{}
		if fields.Name != nil {
			acc.Name = *fields.Name
		}
		return acc, nil
	}
	if err := classify(resp); err != nil {
		return nil, err
	}

	var acc Account
	if err := decodeJSON(resp, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpdateAccount patches only the supplied fields.
func (c *Client) UpdateAccount(ctx context.Context, id string, fields AccountFields) error {
	resp, err := c.do(ctx, http.MethodPatch, recordPath(EntityAccount, id), fields)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.failure()
	}
	return nil
}

// DeleteAccount removes an account. Any 2xx, including 204, is success.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, recordPath(EntityAccount, id), nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.failure()
	}
	return nil
}
