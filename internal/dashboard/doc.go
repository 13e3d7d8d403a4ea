// Package dashboard serves a browser UI and REST API that run the same tools
// agents reach over MCP, with one Creatio connection per browser session.
package dashboard
