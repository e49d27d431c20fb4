// Package tankbridge holds build metadata shared by the CLI and the MCP server.
package tankbridge

// Version is overridden at build time with -ldflags "-X github.com/deixis/tankbridge.Version=...".
var Version = "dev"
