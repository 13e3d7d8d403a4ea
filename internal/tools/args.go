// ABOUTME: Typed accessors over the loosely typed argument maps tool callers send.
// ABOUTME: Numbers arrive as float64 from JSON but may also be ints or numeric strings.

package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/2389/creatio-gateway/internal/creatio"
)

// Args is a tool call's argument map.
type Args map[string]any

// String returns a trimmed string argument, or "" when absent.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// OptionalString returns a pointer to the argument when it was supplied.
func (a Args) OptionalString(key string) *string {
	s, ok := a[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// Int returns an integer argument, or 0 when absent or not numeric.
func (a Args) Int(key string) int {
	n, _ := toInt(a[key])
	return n
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func (a Args) queryOptions() creatio.QueryOptions {
	return creatio.QueryOptions{
		Filter:  a.String("filter"),
		Select:  a.String("select"),
		Top:     a.Int("top"),
		Skip:    a.Int("skip"),
		OrderBy: a.String("orderby"),
		Expand:  a.String("expand"),
	}
}

func (a Args) accountFields() creatio.AccountFields {
	return creatio.AccountFields{
		Name:    a.OptionalString("name"),
		Phone:   a.OptionalString("phone"),
		Email:   a.OptionalString("email"),
		Web:     a.OptionalString("web"),
		Address: a.OptionalString("address"),
		City:    a.OptionalString("city"),
	}
}
