// Package mcp implements the MCP SSE transport that exposes the Creatio tools to agents.
//
// # Protocol
//
// An agent opens a long-lived event stream and posts JSON-RPC 2.0 messages
// separately:
//
//   - GET /mcp/sse - opens the stream; the first event names the POST target
//   - POST /mcp/messages?sessionId=<handle> - delivers one message, answers 202
//   - GET /mcp/health - liveness and the number of open streams
//
// The handshake looks like:
//
//	event: endpoint
//	data: /mcp/messages?sessionId=5b0c...
//
// Replies to posted requests arrive on the stream as "message" events, in
// the order the requests were posted. Notifications get no reply. Idle
// streams carry ": ping" comments.
//
// # Sessions
//
// Each stream owns an mcp-go engine and a tools.ClientSlot, so a connection
// made with test_creatio_connection on one stream is invisible to others.
// Closing the stream unregisters the session; a background sweep also
// drops sessions that stopped accepting writes.
//
// # Authentication
//
// When a JWT secret is configured the stream and message endpoints require
//
//	Authorization: Bearer <token>
//
// See package auth.
//
// # Client configuration
//
//	{
//	  "mcpServers": {
//	    "creatio": {
//	      "url": "http://localhost:3000/mcp/sse"
//	    }
//	  }
//	}
package mcp
