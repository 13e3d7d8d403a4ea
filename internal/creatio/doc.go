// Package creatio is a session-authenticated client for the Creatio CRM.
//
// # Authentication
//
// Creatio uses forms authentication. A login POST to
// /ServiceModel/AuthService.svc/Login answers with a JSON body whose Code
// field is 0 on success, plus Set-Cookie headers. Four cookies matter for
// later calls: BPMCSRF (anti-forgery token), .ASPXAUTH (auth ticket),
// BPMLOADER and UserName. The token is also echoed in a BPMCSRF request
// header.
//
// A Client logs in lazily on its first operation and again whenever its
// Session is past ExpiresAt (30 minutes after login). Concurrent callers
// share one login.
//
// # Response classification
//
// Creatio regularly answers data calls with HTML: an error page with a
// non-2xx status when the user lacks a permission, or a login page with
// status 200 when the session was dropped. Each case maps to its own error
// type so callers can tell "fix permissions" from "re-authenticate":
//
//   - *PermissionError: non-2xx HTML page, carries the page title
//   - *RequestError: non-2xx non-HTML answer, carries status and body
//   - *UnexpectedContentTypeError: 2xx HTML answer
//   - *MalformedResponseError: body is not valid JSON
//   - *AuthError: login failed (Rejected or TransportFailure)
//
// A missing single record is not an error: GetAccount returns (nil, nil).
//
// # Usage
//
//	c := creatio.NewClient(creatio.Config{
//	    BaseURL:  "https://mycompany.creatio.com",
//	    Username: "Supervisor",
//	    Password: os.Getenv("CREATIO_PASSWORD"),
//	})
//	res, err := c.QueryAccounts(ctx, creatio.QueryOptions{
//	    Filter: "contains(Name,'Tech')",
//	    Top:    5,
//	})
package creatio
