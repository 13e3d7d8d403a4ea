// Package auth protects the gateway's HTTP endpoints with bearer tokens.
//
// Protection is off unless auth.jwt_secret is configured. When on, the SSE
// stream, message posting and dashboard API require
//
//	Authorization: Bearer <token>
//
// where the token is an HS256 JWT with a non-empty "sub" claim. Health
// endpoints stay open.
//
// Tokens are minted with the CLI:
//
//	creatio-gateway token --subject ops-laptop --ttl 720h
//
// Handlers read the caller with FromContext or SubjectFromContext.
package auth
