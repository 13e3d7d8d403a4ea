// Package gateway assembles the creatio-gateway server.
//
// # Overview
//
// New wires one tool dispatcher into both exposed surfaces and registers
// them on a single ServeMux:
//
//	GET  /health              plain "OK" liveness probe
//	GET  /mcp/sse             MCP event stream (one Creatio connection per stream)
//	POST /mcp/messages        MCP JSON-RPC messages for a stream
//	GET  /mcp/health          MCP status with active stream count
//	GET  /                    dashboard
//	GET  /docs/tools          tool reference rendered from the registry
//	     /api/...             dashboard REST API
//
// When auth.jwt_secret is set, the MCP stream and message endpoints and the
// dashboard API require a bearer token.
//
// # Lifecycle
//
// Run listens on server.http_addr, or on a tailscale node when tailscale is
// enabled (plain HTTP on :80, HTTPS with tailnet certs on :443, or a public
// funnel). Cancelling the context triggers Shutdown with a five second
// budget: open MCP streams are ended, dashboard slots are dropped, then the
// HTTP server drains.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx)
package gateway
