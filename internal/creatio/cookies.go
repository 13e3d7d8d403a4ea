// ABOUTME: Set-Cookie extraction strategies for the Creatio forms-auth login response.
// ABOUTME: Structured multi-value headers are preferred; a combined header is split by lookahead.

package creatio

import (
	"net/http"
	"regexp"
	"strings"
)

// Cookie names the Creatio auth scheme needs on subsequent requests.
const (
	CookieCSRF     = "BPMCSRF"
	CookieAuth     = ".ASPXAUTH"
	CookieLoader   = "BPMLOADER"
	CookieUserName = "UserName"
)

var knownCookies = map[string]bool{
	CookieCSRF:     true,
	CookieAuth:     true,
	CookieLoader:   true,
	CookieUserName: true,
}

// CookieSource returns raw Set-Cookie values from a response header.
type CookieSource interface {
	SetCookies(h http.Header) []string
}

// HeaderValuesSource reads each Set-Cookie header line as one cookie.
type HeaderValuesSource struct{}

func (HeaderValuesSource) SetCookies(h http.Header) []string {
	return h.Values("Set-Cookie")
}

// CombinedHeaderSource handles stacks that fold every Set-Cookie into one
// comma-joined string. Commas also occur inside attribute values (Expires
// dates), so a comma only separates cookies when `name=` follows it.
type CombinedHeaderSource struct{}

// cookieBoundary matches the start of each cookie: either the start of the
// string or a comma followed by a `name=` token.
var cookieBoundary = regexp.MustCompile(`(?:^|,)\s*[^=;,\s]+=`)

func (CombinedHeaderSource) SetCookies(h http.Header) []string {
	return SplitCombinedSetCookie(strings.Join(h.Values("Set-Cookie"), ", "))
}

// SplitCombinedSetCookie splits a comma-joined Set-Cookie string.
func SplitCombinedSetCookie(combined string) []string {
	if strings.TrimSpace(combined) == "" {
		return nil
	}
	locs := cookieBoundary.FindAllStringIndex(combined, -1)
	var out []string
	for i, loc := range locs {
		start := loc[0]
		if combined[start] == ',' {
			start++
		}
		end := len(combined)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if part := strings.TrimSpace(combined[start:end]); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// sourceFor picks the structured accessor when the transport delivered more
// than one Set-Cookie line, and the combined splitter otherwise.
func sourceFor(h http.Header) CookieSource {
	if len(h.Values("Set-Cookie")) > 1 {
		return HeaderValuesSource{}
	}
	return CombinedHeaderSource{}
}

// ExtractedCookies is the outcome of reading a login response.
type ExtractedCookies struct {
	Header    string // ready for a Cookie request header
	CSRFToken string
}

var csrfInString = regexp.MustCompile(`(?:^|[;,\s])` + CookieCSRF + `=([^;,\s]+)`)

// CSRFFromString pattern-matches the anti-forgery token out of a cookie
// string. Returns "" when absent.
func CSRFFromString(s string) string {
	if m := csrfInString.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// ExtractAuthCookies keeps only the known auth cookies, in discovery order,
// and locates the anti-forgery token. When no standalone BPMCSRF cookie was
// seen, the token is searched for in the assembled string and then in the
// raw header values (some proxies glue several cookies into one line with
// semicolons).
func ExtractAuthCookies(setCookies []string) ExtractedCookies {
	var pairs []string
	var out ExtractedCookies
	seen := make(map[string]bool)
	for _, raw := range setCookies {
		pair, _, _ := strings.Cut(raw, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if !knownCookies[name] || seen[name] {
			continue
		}
		seen[name] = true
		pairs = append(pairs, name+"="+value)
		if name == CookieCSRF {
			out.CSRFToken = value
		}
	}
	out.Header = strings.Join(pairs, "; ")

	if out.CSRFToken == "" {
		out.CSRFToken = CSRFFromString(out.Header)
	}
	if out.CSRFToken == "" {
		out.CSRFToken = CSRFFromString(strings.Join(setCookies, "; "))
	}
	return out
}
